package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/skip2/go-qrcode"

	"github.com/vitawell/backend/internal/config"
	"github.com/vitawell/backend/internal/models"
)

// NetworkService answers read-only questions about the referral forest and
// records sponsor attachments written at signup.
type NetworkService struct {
	db     *sql.DB
	redis  *redis.Client
	config *config.NetworkConfig
}

func NewNetworkService(db *sql.DB, redis *redis.Client, cfg *config.NetworkConfig) *NetworkService {
	return &NetworkService{
		db:     db,
		redis:  redis,
		config: cfg,
	}
}

// RegisterReferral attaches childID under parentID. A user has at most one
// sponsor, set once; a second attachment returns ErrEdgeExists. The parent's
// chain is walked first so the edge cannot close a cycle.
func (s *NetworkService) RegisterReferral(ctx context.Context, childID, parentID string) (*models.ReferralEdge, error) {
	if childID == "" || parentID == "" {
		return nil, fmt.Errorf("child and parent ids are required")
	}
	if childID == parentID {
		return nil, fmt.Errorf("user cannot sponsor themselves")
	}

	upline, err := s.walkUpline(ctx, parentID, s.config.MaxDepth)
	if err != nil {
		return nil, err
	}
	for _, entry := range upline {
		if entry.ParentID == childID {
			return nil, fmt.Errorf("edge %s -> %s would close a referral cycle", childID, parentID)
		}
	}

	edge := models.ReferralEdge{
		ChildID:   childID,
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO referral_edges (child_id, parent_id, created_at)
		VALUES ($1, $2, $3)`,
		edge.ChildID, edge.ParentID, edge.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEdgeExists
		}
		return nil, fmt.Errorf("register referral: %w", err)
	}

	s.invalidateUplineCache(ctx, childID)
	log.Printf("[NETWORK] Registered referral %s under %s", childID, parentID)
	return &edge, nil
}

// GetUpline returns the ordered sponsor chain of userID, level 1 first. The
// walk is iterative with a hard depth cap; fewer entries than maxLevels means
// the chain ended early. Results are cached briefly when Redis is available.
func (s *NetworkService) GetUpline(ctx context.Context, userID string, maxLevels int) ([]models.UplineEntry, error) {
	if maxLevels <= 0 || maxLevels > s.config.MaxDepth {
		maxLevels = s.config.MaxDepth
	}

	cacheKey := fmt.Sprintf("upline:%s:%d", userID, maxLevels)
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []models.UplineEntry
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	upline, err := s.walkUpline(ctx, userID, maxLevels)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if data, err := json.Marshal(upline); err == nil {
			s.redis.Set(ctx, cacheKey, data, s.config.UplineCacheTTL)
		}
	}
	return upline, nil
}

func (s *NetworkService) walkUpline(ctx context.Context, userID string, maxLevels int) ([]models.UplineEntry, error) {
	upline := make([]models.UplineEntry, 0, maxLevels)
	visited := map[string]bool{userID: true}
	current := userID

	for level := 1; level <= maxLevels; level++ {
		var parentID string
		var createdAt time.Time
		err := s.db.QueryRowContext(ctx, `
			SELECT parent_id, created_at
			FROM referral_edges
			WHERE child_id = $1`, current).Scan(&parentID, &createdAt)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, err
		}

		// A revisited node means the edge data is corrupt
		if visited[parentID] {
			return nil, &CycleError{UserID: parentID}
		}
		visited[parentID] = true

		upline = append(upline, models.UplineEntry{
			Level:     level,
			ParentID:  parentID,
			CreatedAt: createdAt,
		})
		current = parentID
	}
	return upline, nil
}

// GetDownline returns recruits grouped by depth, breadth first
func (s *NetworkService) GetDownline(ctx context.Context, userID string, maxLevels int) ([]models.DownlineLevel, error) {
	if maxLevels <= 0 || maxLevels > s.config.MaxDepth {
		maxLevels = s.config.MaxDepth
	}

	var levels []models.DownlineLevel
	visited := map[string]bool{userID: true}
	frontier := []string{userID}

	for level := 1; level <= maxLevels && len(frontier) > 0; level++ {
		rows, err := s.db.QueryContext(ctx, `
			SELECT child_id
			FROM referral_edges
			WHERE parent_id = ANY($1)
			ORDER BY child_id`, pq.Array(frontier))
		if err != nil {
			return nil, err
		}

		var next []string
		for rows.Next() {
			var childID string
			if err := rows.Scan(&childID); err != nil {
				rows.Close()
				return nil, err
			}
			if visited[childID] {
				continue
			}
			visited[childID] = true
			next = append(next, childID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if len(next) == 0 {
			break
		}
		levels = append(levels, models.DownlineLevel{Level: level, UserIDs: next})
		frontier = next
	}
	return levels, nil
}

// ReferralInvite builds the caller's invite link and a QR code image for it
func (s *NetworkService) ReferralInvite(ctx context.Context, userID string) (string, string, error) {
	link := s.config.InviteBaseURL + userID

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())
	return link, qrImage, nil
}

func (s *NetworkService) invalidateUplineCache(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	for depth := 1; depth <= s.config.MaxDepth; depth++ {
		s.redis.Del(ctx, fmt.Sprintf("upline:%s:%d", userID, depth))
	}
}
