// Package client provides a Go client for the quibble API.
package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quibble-app/quibble/internal/model"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Captcha is an issued challenge the caller must answer when posting.
type Captcha struct {
	Key       string    `json:"key"`
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetCaptcha requests a fresh one-time challenge.
func (c *Client) GetCaptcha() (Captcha, error) {
	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/captcha", "application/json", nil)
	if err != nil {
		return Captcha{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Captcha
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Captcha{}, err
	}
	if result.Error != "" {
		return Captcha{}, errors.New(result.Error)
	}
	return result.Captcha, nil
}

type PostCommentRequest struct {
	AuthorName      string
	AuthorEmail     string
	Homepage        string
	Text            string
	ParentID        *int64
	CaptchaKey      string
	CaptchaResponse string
	AttachmentName  string
	AttachmentData  []byte
}

// PostComment submits a comment and returns the persisted comment plus the
// notification job id.
func (c *Client) PostComment(req PostCommentRequest) (model.Comment, string, error) {
	body := map[string]any{
		"author": map[string]string{
			"name":     req.AuthorName,
			"email":    req.AuthorEmail,
			"homepage": req.Homepage,
		},
		"text": req.Text,
	}
	if req.ParentID != nil {
		body["parent_id"] = *req.ParentID
	}
	if req.CaptchaKey != "" {
		body["captcha_key"] = req.CaptchaKey
		body["captcha_response"] = req.CaptchaResponse
	}
	if req.AttachmentName != "" {
		body["attachment"] = map[string]string{
			"name": req.AttachmentName,
			"data": base64.StdEncoding.EncodeToString(req.AttachmentData),
		}
	}

	raw, _ := json.Marshal(body)
	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/comments", "application/json", bytes.NewReader(raw))
	if err != nil {
		return model.Comment{}, "", err
	}
	defer resp.Body.Close()

	var result struct {
		Comment model.Comment `json:"comment"`
		JobID   string        `json:"job_id"`
		Error   string        `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.Comment{}, "", err
	}
	if result.Error != "" {
		return model.Comment{}, "", errors.New(result.Error)
	}
	if resp.StatusCode != http.StatusAccepted {
		return model.Comment{}, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return result.Comment, result.JobID, nil
}

type CommentPage struct {
	Comments []model.CommentNode `json:"comments"`
	Page     int                 `json:"page"`
	PerPage  int                 `json:"per_page"`
	Total    int64               `json:"total"`
	Order    string              `json:"order"`
}

// ListComments fetches one page of root comments with their reply trees.
func (c *Client) ListComments(order string, page int) (CommentPage, error) {
	url := fmt.Sprintf("%s/api/comments?order=%s&page=%d", c.BaseURL, order, page)
	resp, err := c.HTTPClient.Get(url)
	if err != nil {
		return CommentPage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CommentPage{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var result CommentPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CommentPage{}, err
	}
	return result, nil
}

// GetComment fetches one comment with its depth-bounded reply tree.
func (c *Client) GetComment(id int64) (model.CommentNode, error) {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/comments/%d", c.BaseURL, id))
	if err != nil {
		return model.CommentNode{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.CommentNode{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var node model.CommentNode
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return model.CommentNode{}, err
	}
	return node, nil
}

// Subscribe opens the live feed and delivers each envelope to fn until the
// connection drops or Close is called on the returned subscription.
func (c *Client) Subscribe(fn func(model.Envelope)) (*Subscription, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env model.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			fn(env)
		}
	}()
	return sub, nil
}

type Subscription struct {
	conn *websocket.Conn
	done chan struct{}
}

// Close tears down the connection and waits for the read loop to exit.
func (s *Subscription) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}
