package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kelo-pay/kelo/internal/httpx"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// Notification is a persisted inbox item.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Inbox stores per-user notifications.
type Inbox interface {
	Save(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, p httpx.Page) ([]Notification, int, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
}

// InboxNotifier persists messages addressed to a user.
type InboxNotifier struct {
	inbox Inbox
}

// NewInboxNotifier builds a notifier writing into inbox.
func NewInboxNotifier(inbox Inbox) *InboxNotifier {
	return &InboxNotifier{inbox: inbox}
}

// Send implements Notifier. Messages without a user are ignored.
func (n *InboxNotifier) Send(ctx context.Context, m Message) error {
	if m.UserID == "" {
		return nil
	}
	return n.inbox.Save(ctx, Notification{
		ID:        uuid.NewString(),
		UserID:    m.UserID,
		Kind:      m.Kind,
		Title:     m.Title,
		Body:      m.Body,
		CreatedAt: time.Now().UTC(),
	})
}

type memoryInbox struct {
	mu    sync.RWMutex
	items map[string][]Notification
}

// NewMemoryInbox constructs an in-memory inbox.
func NewMemoryInbox() Inbox {
	return &memoryInbox{items: make(map[string][]Notification)}
}

func (m *memoryInbox) Save(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[n.UserID] = append(m.items[n.UserID], n)
	return nil
}

func (m *memoryInbox) List(_ context.Context, userID string, unreadOnly bool, p httpx.Page) ([]Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for _, n := range m.items[userID] {
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return httpx.Window(out, p), len(out), nil
}

func (m *memoryInbox) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.items[userID] {
		if n.ID == id {
			if n.ReadAt == nil {
				m.items[userID][i].ReadAt = &at
			}
			return nil
		}
	}
	return ErrNotFound
}

// PostgresInbox stores notifications in PostgreSQL.
type PostgresInbox struct {
	db *pgxpool.Pool
}

// NewPostgresInbox builds a Postgres-backed inbox.
func NewPostgresInbox(db *pgxpool.Pool) *PostgresInbox {
	return &PostgresInbox{db: db}
}

func (r *PostgresInbox) Save(ctx context.Context, n Notification) error {
	_, err := r.db.Exec(ctx, `INSERT INTO notifications (id, user_id, kind, title, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, n.ID, n.UserID, n.Kind, n.Title, n.Body, n.CreatedAt)
	return err
}

func (r *PostgresInbox) List(ctx context.Context, userID string, unreadOnly bool, p httpx.Page) ([]Notification, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM notifications
        WHERE user_id = $1 AND ($2 = false OR read_at IS NULL)`, userID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, user_id, kind, title, body, read_at, created_at
        FROM notifications WHERE user_id = $1 AND ($2 = false OR read_at IS NULL)
        ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, unreadOnly, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *PostgresInbox) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $3)
        WHERE id = $1 AND user_id = $2`, id, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
