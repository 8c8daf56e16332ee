package twitter

import "time"

// Post is one tweet as consumed by the watch loop.
// Mapped from the API response at the boundary; fields are validated there.
type Post struct {
	ID        string
	AuthorID  string
	Text      string
	CreatedAt time.Time
}

// URL returns the canonical status link for the post.
func (p Post) URL() string {
	return "https://twitter.com/i/web/status/" + p.ID
}

// User is one resolved account from /2/users/by.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type apiPost struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

type searchResponse struct {
	Data []apiPost `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NewestID    string `json:"newest_id"`
	} `json:"meta"`
}

type usersByResponse struct {
	Data   []User `json:"data"`
	Errors []struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
		Value  string `json:"value"`
	} `json:"errors"`
}
