package card

import (
	"fmt"
	"net/url"
	"strings"
)

// ShareTitle is the title passed to native share sheets.
const ShareTitle = "TruthCard.AI Results"

// ShareTarget is a compose URL opened when no native share sheet exists.
type ShareTarget struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// SharePayload is everything a client needs to share a result.
type SharePayload struct {
	Title     string        `json:"title"`
	Text      string        `json:"text"`
	URL       string        `json:"url"`
	ImageURL  string        `json:"imageUrl,omitempty"`
	Fallbacks []ShareTarget `json:"fallbacks"`
}

// Share builds the share text and the fallback compose links.
func Share(c Card, pageURL, imageURL string) SharePayload {
	text := fmt.Sprintf("My dating profile got a %s%% cringe score on TruthCard.AI!", FormatScore(c.Score))
	encoded := encodeURIComponent(text)
	return SharePayload{
		Title:    ShareTitle,
		Text:     text,
		URL:      pageURL,
		ImageURL: imageURL,
		Fallbacks: []ShareTarget{
			{Platform: "instagram", URL: "https://www.instagram.com/stories/create?text=" + encoded},
			{Platform: "tiktok", URL: "https://www.tiktok.com/upload?description=" + encoded},
			{Platform: "snapchat", URL: "https://www.snapchat.com/creative/snapcode?text=" + encoded},
		},
	}
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
