package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/comfystudio/orchestrator/pkg/types"
)

// RedisStore implements Store backed by Redis. Each project document
// is one JSON string keyed by prefix:project:<id>; an index set tracks
// project ids. Job writes use WATCH-based optimistic transactions so
// concurrent generations on one project cannot lose updates.
// Subscriber fan-out is in-process, since one orchestrator owns each
// job's lifecycle.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	hub    *subscriberHub

	// subMu serializes job writes against subscriber registration, so
	// a subscriber cannot take its snapshot before a terminal write
	// and register after that write's notification. Cross-process
	// consistency still rests on the WATCH transaction.
	subMu sync.Mutex
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db).
	URL string

	Password string
	DB       int

	// Prefix for all keys (default: "comfystudio").
	Prefix string

	// TTL for project documents (0 = no expiry).
	TTL time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "comfystudio",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed job store and verifies the
// connection with a ping.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			// Not a URL; treat it as a bare host:port.
			opts.Addr = cfg.URL
		} else {
			opts.Addr = parsed.Addr
			if parsed.Password != "" {
				opts.Password = parsed.Password
			}
			if parsed.DB != 0 {
				opts.DB = parsed.DB
			}
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "comfystudio"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		hub:    newSubscriberHub(),
	}, nil
}

func (s *RedisStore) projectKey(id string) string {
	return s.prefix + ":project:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":projects"
}

func (s *RedisStore) readDoc(ctx context.Context, id string) (*Project, error) {
	raw, err := s.client.Get(ctx, s.projectKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", id, err)
	}

	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", id, err)
	}
	if p.Jobs == nil {
		p.Jobs = make(map[string]*types.GenerationJob)
	}
	return &p, nil
}

func (s *RedisStore) writeDoc(ctx context.Context, p *Project) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.projectKey(p.ID), raw, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write project %s: %w", p.ID, err)
	}
	return nil
}

func (s *RedisStore) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		name = "New Project"
	}

	now := time.Now().UTC()
	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Jobs:      make(map[string]*types.GenerationJob),
	}
	if err := s.writeDoc(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *RedisStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.readDoc(ctx, id)
}

func (s *RedisStore) ListProjects(ctx context.Context) ([]*Project, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var out []*Project
	for _, id := range ids {
		p, err := s.readDoc(ctx, id)
		if err != nil {
			if errors.Is(err, ErrProjectNotFound) {
				// Expired document; drop the stale index entry.
				s.client.SRem(ctx, s.indexKey(), id)
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *RedisStore) PutJob(ctx context.Context, projectID string, job *types.GenerationJob) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	// Optimistic read-modify-write: WATCH the document key so a
	// concurrent writer forces a retry instead of a lost update.
	key := s.projectKey(projectID)

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrProjectNotFound
			}
			if err != nil {
				return err
			}

			var p Project
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("parse project %s: %w", projectID, err)
			}
			if p.Jobs == nil {
				p.Jobs = make(map[string]*types.GenerationJob)
			}

			if existing, ok := p.Jobs[job.ID]; ok && jobsEqual(existing, job) {
				return nil
			}

			stored := cloneJob(job)
			stored.UpdatedAt = time.Now().UTC()
			p.Jobs[job.ID] = stored
			p.UpdatedAt = stored.UpdatedAt

			next, err := json.Marshal(&p)
			if err != nil {
				return fmt.Errorf("encode project %s: %w", projectID, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, s.ttl)
				return nil
			})
			if err != nil {
				return err
			}

			s.hub.notify(projectID, stored)
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("put job %s: too many conflicting writers", job.ID)
}

func (s *RedisStore) GetJob(ctx context.Context, projectID, jobID string) (*types.GenerationJob, error) {
	p, err := s.readDoc(ctx, projectID)
	if err != nil {
		return nil, err
	}
	job, ok := p.Jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, projectID, jobID string) (<-chan *types.GenerationJob, func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	current, err := s.GetJob(ctx, projectID, jobID)
	if err != nil {
		return nil, nil, err
	}

	ch, cleanup := s.hub.subscribe(projectID, jobID, current)
	return ch, cleanup, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
