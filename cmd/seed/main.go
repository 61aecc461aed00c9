// Command seed fills a running quibble server with demo comments.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/quibble-app/quibble/internal/client"
	"github.com/quibble-app/quibble/internal/model"
)

var demoAuthors = []struct {
	name  string
	email string
}{
	{"alice", "alice@example.com"},
	{"bob", "bob@example.com"},
	{"carol", "carol@example.com"},
}

var demoBodies = []string{
	"First!",
	"Has anyone tried the <code>order=author</code> listing?",
	"I <strong>strongly</strong> disagree.",
	"Interesting thread.",
	"Relevant link: <a href=\"https://example.com\">example</a>",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	count := flag.Int("count", 10, "number of comments to create")
	flag.Parse()

	c := client.New(*baseURL)

	var lastID int64
	for i := 0; i < *count; i++ {
		author := demoAuthors[i%len(demoAuthors)]
		text := demoBodies[i%len(demoBodies)]

		var parent *int64
		// Every third comment replies to the previous one so the seeded
		// data exercises the tree rendering.
		if i%3 == 2 && lastID != 0 {
			pid := lastID
			parent = &pid
		}

		comment, jobID, err := postOne(c, author.name, author.email, text, parent)
		if err != nil {
			log.Fatalf("post comment %d: %v", i+1, err)
		}
		lastID = comment.ID
		fmt.Printf("created comment %d (job %s)\n", comment.ID, jobID)
	}
}

func postOne(c *client.Client, name, email, text string, parent *int64) (model.Comment, string, error) {
	cap, err := c.GetCaptcha()
	if err != nil {
		return model.Comment{}, "", fmt.Errorf("get captcha: %w", err)
	}
	answer, err := solve(cap.Question)
	if err != nil {
		return model.Comment{}, "", err
	}
	return c.PostComment(client.PostCommentRequest{
		AuthorName:      name,
		AuthorEmail:     email,
		Text:            text,
		ParentID:        parent,
		CaptchaKey:      cap.Key,
		CaptchaResponse: answer,
	})
}

// solve answers the arithmetic challenge ("3 + 4 = ?").
func solve(question string) (string, error) {
	fields := strings.Fields(question)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected captcha question %q", question)
	}
	a, errA := strconv.Atoi(fields[0])
	b, errB := strconv.Atoi(fields[2])
	if errA != nil || errB != nil {
		return "", fmt.Errorf("unexpected captcha question %q", question)
	}
	return strconv.Itoa(a + b), nil
}
