package domain

// Page is the paginated envelope returned by the papers metadata API.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Author is a papers-API author entry.
type Author struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// Paper is a papers-API paper entry.
type Paper struct {
	ID               string   `json:"id"`
	ArxivID          *string  `json:"arxiv_id"`
	NipsID           *string  `json:"nips_id"`
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	URLAbs           string   `json:"url_abs"`
	URLPDF           string   `json:"url_pdf"`
	Abstract         string   `json:"abstract"`
	Authors          []string `json:"authors"`
	Published        string   `json:"published"`
	Conference       *string  `json:"conference"`
	ConferenceURLAbs *string  `json:"conference_url_abs"`
	ConferenceURLPDF *string  `json:"conference_url_pdf"`
	Proceeding       *string  `json:"proceeding"`
}

// Influencer is one row of the local AI personalities table.
type Influencer struct {
	ID                 int      `json:"id"`
	Rank               *int     `json:"rank"`
	Name               string   `json:"name"`
	Bio                string   `json:"bio"`
	TwitterUsername    *string  `json:"twitter_username"`
	NbTwitterFollowers int      `json:"nb_twitter_followers"`
	Type               *string  `json:"type"`
	Gender             *string  `json:"gender"`
	Links              []string `json:"links"`
}

// QueryResult is a tabular SQL result.
type QueryResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated,omitempty"`
}
