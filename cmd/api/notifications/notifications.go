package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lending-service/cmd/api/book"
)

const (
	topicBookBorrowed = "book_borrowed"
	topicBookReturned = "book_returned"
)

// Ntfy publishes lending events to topics of an ntfy server.
type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	if client == nil {
		client = &http.Client{}
	}
	return &Ntfy{
		baseURL: strings.TrimSuffix(notificationsBaseURL, "/"),
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) BookBorrowed(ctx context.Context, title, borrower string) error {
	return ntf.publish(ctx, topicBookBorrowed, fmt.Sprintf("Book borrowed:\nTitle: %s\nBorrower: %s", title, borrower))
}

func (ntf *Ntfy) BookReturned(ctx context.Context, title string) error {
	return ntf.publish(ctx, topicBookReturned, fmt.Sprintf("Book returned:\nTitle: %s", title))
}

/* Posts the message to the topic. It does nothing when notifications are disabled. */
func (ntf *Ntfy) publish(ctx context.Context, topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	url := ntf.baseURL + "/" + topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", url, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error delivering message to topic (%s): %w", url, book.NewErrNotificationFailed(resp.StatusCode))
	}
	return nil
}
