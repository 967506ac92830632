package models

// Page is a remote article with its structured content.
type Page struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content []Node `json:"content"`
}

// MediaReference is one image or video found in a page, in document order.
type MediaReference struct {
	RawSrc        string `json:"raw_src"`
	FileID        string `json:"file_id"`
	SequenceIndex int    `json:"sequence_index"`
	Tag           string `json:"tag"`
}

// DownloadTask pairs a reference with where it comes from and where it goes.
type DownloadTask struct {
	Ref         MediaReference `json:"ref"`
	URL         string         `json:"url"`
	Destination string         `json:"destination"`
	Transcode   bool           `json:"transcode"`
}
