package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

// RuleIndex is the denormalized search view of the rule store.
// Documents are written at least once; the store stays the source of truth.
type RuleIndex interface {
	PutRules(ctx context.Context, docs []*RuleDoc) error
	DeleteRules(ctx context.Context, ids []string) error
	// GetRule returns a rule document by key, REMOVED rules included.
	GetRule(ctx context.Context, id string) (*RuleDoc, error)
	SearchRules(ctx context.Context, q RuleQuery) ([]*RuleDoc, error)
	RuleIDs(ctx context.Context) ([]string, error)

	PutActiveRules(ctx context.Context, docs []*ActiveRuleDoc) error
	DeleteActiveRules(ctx context.Context, ids []string) error
	GetActiveRule(ctx context.Context, id string) (*ActiveRuleDoc, error)
	ActiveRuleIDs(ctx context.Context) ([]string, error)

	PutTags(ctx context.Context, values []string) error
	DeleteTags(ctx context.Context, values []string) error
	Tags(ctx context.Context) ([]string, error)
}

const (
	rulePrefix       = "rule:"
	activeRulePrefix = "arule:"
	tagPrefix        = "tag:"
)

// BadgerIndex implements RuleIndex on an embedded BadgerDB.
type BadgerIndex struct {
	db     *badger.DB
	gc     *gcRunner
	logger *zap.Logger
}

var _ RuleIndex = (*BadgerIndex)(nil)

// Open opens the index described by cfg and starts value log GC when configured.
func Open(cfg Config) (*BadgerIndex, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	idx := &BadgerIndex{
		db:     db,
		logger: logger.Named("rule-index"),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		idx.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, idx.logger)
		idx.gc.start()
	}

	return idx, nil
}

// Close stops GC and closes the database.
func (i *BadgerIndex) Close() error {
	if i.gc != nil {
		i.gc.stop()
		i.gc = nil
	}
	return i.db.Close()
}

// ============================================================================
// Rules
// ============================================================================

func (i *BadgerIndex) PutRules(ctx context.Context, docs []*RuleDoc) error {
	entries := make(map[string]any, len(docs))
	for _, doc := range docs {
		entries[rulePrefix+doc.ID] = doc
	}
	return i.putJSON(ctx, entries)
}

func (i *BadgerIndex) DeleteRules(ctx context.Context, ids []string) error {
	return i.deleteKeys(ctx, rulePrefix, ids)
}

func (i *BadgerIndex) GetRule(ctx context.Context, id string) (*RuleDoc, error) {
	var doc RuleDoc
	if err := i.getJSON(ctx, rulePrefix+id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (i *BadgerIndex) SearchRules(ctx context.Context, q RuleQuery) ([]*RuleDoc, error) {
	var results []*RuleDoc
	err := i.scan(ctx, rulePrefix, func(_ string, value []byte) (bool, error) {
		var doc RuleDoc
		if err := json.Unmarshal(value, &doc); err != nil {
			return false, fmt.Errorf("failed to decode rule document: %w", err)
		}
		if !q.matches(&doc) {
			return true, nil
		}
		results = append(results, &doc)
		return q.Limit <= 0 || len(results) < q.Limit, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (q *RuleQuery) matches(doc *RuleDoc) bool {
	if doc.Status == models.RuleStatusRemoved && !q.IncludeRemoved {
		return false
	}
	if len(q.Repositories) > 0 && !slices.Contains(q.Repositories, doc.Repository) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, doc.Status) {
		return false
	}
	if len(q.Tags) > 0 && !slices.ContainsFunc(q.Tags, func(t string) bool {
		return slices.Contains(doc.AllTags, t)
	}) {
		return false
	}
	if q.Text != "" {
		text := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(doc.Name), text) && !strings.Contains(strings.ToLower(doc.ID), text) {
			return false
		}
	}
	return true
}

func (i *BadgerIndex) RuleIDs(ctx context.Context) ([]string, error) {
	return i.keys(ctx, rulePrefix)
}

// ============================================================================
// Active rules
// ============================================================================

func (i *BadgerIndex) PutActiveRules(ctx context.Context, docs []*ActiveRuleDoc) error {
	entries := make(map[string]any, len(docs))
	for _, doc := range docs {
		entries[activeRulePrefix+doc.ID] = doc
	}
	return i.putJSON(ctx, entries)
}

func (i *BadgerIndex) DeleteActiveRules(ctx context.Context, ids []string) error {
	return i.deleteKeys(ctx, activeRulePrefix, ids)
}

func (i *BadgerIndex) GetActiveRule(ctx context.Context, id string) (*ActiveRuleDoc, error) {
	var doc ActiveRuleDoc
	if err := i.getJSON(ctx, activeRulePrefix+id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (i *BadgerIndex) ActiveRuleIDs(ctx context.Context) ([]string, error) {
	return i.keys(ctx, activeRulePrefix)
}

// ============================================================================
// Tag vocabulary
// ============================================================================

func (i *BadgerIndex) PutTags(ctx context.Context, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	wb := i.db.NewWriteBatch()
	defer wb.Cancel()

	for _, v := range values {
		if err := wb.Set([]byte(tagPrefix+v), nil); err != nil {
			return fmt.Errorf("failed to write tag %q: %w", v, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush tags: %w", err)
	}
	return nil
}

func (i *BadgerIndex) DeleteTags(ctx context.Context, values []string) error {
	return i.deleteKeys(ctx, tagPrefix, values)
}

func (i *BadgerIndex) Tags(ctx context.Context) ([]string, error) {
	return i.keys(ctx, tagPrefix)
}

// ============================================================================
// Helpers
// ============================================================================

func (i *BadgerIndex) putJSON(ctx context.Context, entries map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	wb := i.db.NewWriteBatch()
	defer wb.Cancel()

	for key, doc := range entries {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", key, err)
		}
		if err := wb.Set([]byte(key), data); err != nil {
			return fmt.Errorf("failed to write document %s: %w", key, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush documents: %w", err)
	}
	return nil
}

func (i *BadgerIndex) getJSON(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := i.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to read document %s: %w", key, err)
	}
	return nil
}

func (i *BadgerIndex) deleteKeys(ctx context.Context, prefix string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	wb := i.db.NewWriteBatch()
	defer wb.Cancel()

	for _, id := range ids {
		if err := wb.Delete([]byte(prefix + id)); err != nil {
			return fmt.Errorf("failed to delete %s%s: %w", prefix, id, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush deletes: %w", err)
	}
	return nil
}

// keys returns the sorted ids stored under prefix.
func (i *BadgerIndex) keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s keys: %w", prefix, err)
	}

	sort.Strings(ids)
	return ids, nil
}

// scan calls fn for every entry under prefix until fn returns false.
func (i *BadgerIndex) scan(ctx context.Context, prefix string, fn func(id string, value []byte) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return i.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", item.Key(), err)
			}
			more, err := fn(strings.TrimPrefix(string(item.Key()), prefix), value)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}
