// internal/clients/catalog_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/delivery"
)

type CatalogClient struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer

	mu    sync.RWMutex
	token string
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

// SetToken sets the credential sent with every later request. Empty clears it.
func (c *CatalogClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *CatalogClient) authHeader() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return ""
	}
	return "Bearer " + c.token
}

// Do runs operation with vars and decodes the result into out. Server side failures
// are returned as *catalog.Error carrying the server's kind.
func (c *CatalogClient) Do(ctx context.Context, operation string, vars, out any) error {
	reqBody := catalog.Request{Operation: operation}
	if vars != nil {
		raw, err := json.Marshal(vars)
		if err != nil {
			return fmt.Errorf("encode variables: %w", err)
		}
		reqBody.Variables = raw
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Data   json.RawMessage          `json:"data"`
		Errors []catalog.ResponseError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return remoteError(operation, envelope.Errors[0])
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func remoteError(op string, e catalog.ResponseError) *catalog.Error {
	return &catalog.Error{Op: op, Kind: e.Extensions.Code, Field: e.Extensions.Field, Message: e.Message}
}

func (c *CatalogClient) BookCount(ctx context.Context) (int, error) {
	var n int
	err := c.Do(ctx, "bookCount", nil, &n)
	return n, err
}

func (c *CatalogClient) AuthorCount(ctx context.Context) (int, error) {
	var n int
	err := c.Do(ctx, "authorCount", nil, &n)
	return n, err
}

func (c *CatalogClient) AllBooks(ctx context.Context, filter catalog.BooksFilter) ([]*catalog.Book, error) {
	var books []*catalog.Book
	if err := c.Do(ctx, "allBooks", filter, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (c *CatalogClient) AllAuthors(ctx context.Context) ([]*catalog.Author, error) {
	var authors []*catalog.Author
	if err := c.Do(ctx, "allAuthors", nil, &authors); err != nil {
		return nil, err
	}
	return authors, nil
}

// Me returns the user bound to the current token, or nil.
func (c *CatalogClient) Me(ctx context.Context) (*catalog.User, error) {
	var user *catalog.User
	if err := c.Do(ctx, "me", nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

func (c *CatalogClient) AddBook(ctx context.Context, in catalog.NewBookInput) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.Do(ctx, "addBook", in, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) EditAuthor(ctx context.Context, in catalog.EditAuthorInput) (*catalog.Author, error) {
	var author catalog.Author
	if err := c.Do(ctx, "editAuthor", in, &author); err != nil {
		return nil, err
	}
	return &author, nil
}

func (c *CatalogClient) CreateUser(ctx context.Context, in catalog.NewUserInput) (*catalog.User, error) {
	var user catalog.User
	if err := c.Do(ctx, "createUser", in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a token and uses it for every later request.
func (c *CatalogClient) Login(ctx context.Context, username, password string) (string, error) {
	var token catalog.Token
	if err := c.Do(ctx, "login", catalog.LoginInput{Username: username, Password: password}, &token); err != nil {
		return "", err
	}
	c.SetToken(token.Value)
	return token.Value, nil
}

// SubscribeBookAdded streams every book added after the subscription is established.
// Both channels are closed when the stream ends; errs then carries at most one
// error, which wraps the *websocket.CloseError sent by the server if there was one.
// Cancelling ctx ends the stream without an error.
func (c *CatalogClient) SubscribeBookAdded(ctx context.Context) (<-chan catalog.Book, <-chan error, error) {
	u, err := url.Parse(c.baseURL + "/subscriptions")
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"operation": {"bookAdded"}}.Encode()

	header := http.Header{}
	if auth := c.authHeader(); auth != "" {
		header.Set("Authorization", auth)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			defer resp.Body.Close()
			return nil, nil, handshakeError(resp)
		}
		return nil, nil, fmt.Errorf("dial subscription: %w", err)
	}

	books := make(chan catalog.Book)
	errs := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	go func() {
		defer close(errs)
		defer close(books)
		defer close(stop)
		defer conn.Close()
		for {
			var msg struct {
				Type    string       `json:"type"`
				Payload catalog.Book `json:"payload"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("subscription ended: %w", err)
				}
				return
			}
			if msg.Type != delivery.MessageNext {
				continue
			}
			select {
			case books <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return books, errs, nil
}

func handshakeError(resp *http.Response) error {
	var envelope catalog.Response
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		return remoteError("bookAdded", envelope.Errors[0])
	}
	return fmt.Errorf("subscription rejected: unexpected status code: %d", resp.StatusCode)
}
