package domain

import "time"

// Panel is one detected bounding box on a manga page, with optional narration.
type Panel struct {
	Index     int    `json:"index"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Narration string `json:"narration,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// Page is one manga page image with its detected panels.
type Page struct {
	Number    int     `json:"number"`
	ImagePath string  `json:"image_path"`
	Panels    []Panel `json:"panels"`
}

// Project is a manga project as assembled for the browser-side editor view.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Series    string    `json:"series,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Pages     []Page    `json:"pages"`
}

// NarrationProviderOption describes one multimodal narration backend preset.
type NarrationProviderOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	EnvKey      string `json:"env_key"`
	Description string `json:"description,omitempty"`
	Configured  bool   `json:"configured"`
}
