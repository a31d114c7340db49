package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/models"
)

func newTestSync(store *memStore, idx index.RuleIndex, batchSize int) RuleIndexSynchronizer {
	return NewRuleIndexSynchronizer(
		store.scope(),
		&memRuleRepository{s: store},
		&memCharacteristicRepository{s: store},
		&memActiveRuleRepository{s: store},
		&memTagRepository{s: store},
		idx,
		batchSize,
		zap.NewNop(),
	)
}

// seedCatalog stores rules with params, tags, debt and a few activations.
func seedCatalog(store *memStore, rules, paramsPerRule, tagsPerRule int) []int64 {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, rules)

	for i := 0; i < rules; i++ {
		tags := make([]string, 0, tagsPerRule)
		for j := 0; j < tagsPerRule; j++ {
			tags = append(tags, fmt.Sprintf("tag-%d", (i+j)%40))
		}
		rule := store.seedRule(&models.Rule{
			RepositoryKey:                 "java",
			RuleKey:                       fmt.Sprintf("S%04d", i),
			Name:                          fmt.Sprintf("Rule %d", i),
			Description:                   "<p>Description</p>",
			Severity:                      models.SeverityMajor,
			Status:                        models.RuleStatusReady,
			Language:                      "java",
			SystemTags:                    tags[:tagsPerRule-1],
			Tags:                          tags[tagsPerRule-1:],
			DefaultSubCharacteristicID:    intPtr(11),
			DefaultRemediationFunction:    "LINEAR",
			DefaultRemediationCoefficient: "5min",
			CreatedAt:                     created,
			UpdatedAt:                     created,
		})
		ids = append(ids, rule.ID)

		var firstParam *models.RuleParam
		for j := 0; j < paramsPerRule; j++ {
			p := store.seedParam(&models.RuleParam{
				RuleID:       rule.ID,
				Name:         fmt.Sprintf("param%02d", paramsPerRule-j),
				Type:         "STRING",
				DefaultValue: fmt.Sprintf("value-%d", j),
			})
			if firstParam == nil {
				firstParam = p
			}
		}

		if i%10 == 0 && firstParam != nil {
			store.seedActiveRule(&models.ActiveRule{
				ProfileID: int64(i%3 + 1),
				RuleID:    rule.ID,
				Severity:  models.SeverityBlocker,
				Params:    []models.ActiveRuleParam{{RuleParamID: firstParam.ID, Key: firstParam.Name, Value: "override"}},
				CreatedAt: created,
				UpdatedAt: created,
			})
		}
	}
	return ids
}

func TestRuleIndexSync_RebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	ids := seedCatalog(store, 500, 20, 3)

	incremental := newTestRuleIndex(t)
	rebuilt := newTestRuleIndex(t)

	incSync := newTestSync(store, incremental, 64)
	require.NoError(t, incSync.IndexRules(ctx, ids))
	require.NoError(t, incSync.IndexActiveRules(ctx, ids))

	// Orphans the rebuild must drop
	require.NoError(t, rebuilt.PutRules(ctx, []*index.RuleDoc{{ID: "java:gone", Repository: "java", RuleKey: "gone"}}))
	require.NoError(t, rebuilt.PutActiveRules(ctx, []*index.ActiveRuleDoc{{ID: "9:java:gone", ProfileID: 9, RuleKey: "java:gone"}}))
	require.NoError(t, rebuilt.PutTags(ctx, []string{"stale-tag"}))

	result, err := newTestSync(store, rebuilt, 64).Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, 500, result.Rules)
	assert.Equal(t, 50, result.ActiveRules)
	assert.Equal(t, 40, result.Tags)
	assert.Equal(t, 1, result.OrphanRules)
	assert.Equal(t, 1, result.OrphanActiveRules)
	assert.Equal(t, 1, result.OrphanTags)

	incIDs, err := incremental.RuleIDs(ctx)
	require.NoError(t, err)
	rebuiltIDs, err := rebuilt.RuleIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, incIDs, rebuiltIDs)

	for _, id := range incIDs {
		a, err := incremental.GetRule(ctx, id)
		require.NoError(t, err)
		b, err := rebuilt.GetRule(ctx, id)
		require.NoError(t, err)
		assert.JSONEq(t, mustJSON(t, a), mustJSON(t, b), id)
	}

	sample, err := rebuilt.GetRule(ctx, "java:S0000")
	require.NoError(t, err)
	assert.Len(t, sample.Params, 20)
	assert.Equal(t, "param01", sample.Params[0].Name)
	assert.Len(t, sample.AllTags, 3)
	require.NotNil(t, sample.Debt)
	assert.Equal(t, "readability", sample.Debt.SubCharacteristicKey)

	incActive, err := incremental.ActiveRuleIDs(ctx)
	require.NoError(t, err)
	rebuiltActive, err := rebuilt.ActiveRuleIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, incActive, rebuiltActive)
	for _, id := range incActive {
		a, err := incremental.GetActiveRule(ctx, id)
		require.NoError(t, err)
		b, err := rebuilt.GetActiveRule(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mustJSON(t, a), mustJSON(t, b), id)
	}

	incTags, err := incremental.Tags(ctx)
	require.NoError(t, err)
	rebuiltTags, err := rebuilt.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, incTags, rebuiltTags)
	assert.NotContains(t, rebuiltTags, "stale-tag")
}

func TestRuleIndexSync_RebuildIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	seedCatalog(store, 30, 2, 2)

	idx := newTestRuleIndex(t)
	sync := newTestSync(store, idx, 7)

	first, err := sync.Rebuild(ctx)
	require.NoError(t, err)
	second, err := sync.Rebuild(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Rules, second.Rules)
	assert.Zero(t, second.OrphanRules)
	assert.Zero(t, second.OrphanActiveRules)
	assert.Zero(t, second.OrphanTags)
}

func TestRuleIndexSync_IndexRulesResolvesTemplates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)

	template := store.seedRule(&models.Rule{RepositoryKey: "java", RuleKey: "T1", Status: models.RuleStatusReady, IsTemplate: true})
	custom := store.seedRule(&models.Rule{RepositoryKey: "java", RuleKey: "T1_a", Status: models.RuleStatusReady, ParentID: &template.ID})

	idx := newTestRuleIndex(t)
	require.NoError(t, newTestSync(store, idx, 10).IndexRules(ctx, []int64{custom.ID}))

	doc, err := idx.GetRule(ctx, "java:T1_a")
	require.NoError(t, err)
	assert.Equal(t, "java:T1", doc.TemplateKey)

	_, err = idx.GetRule(ctx, "java:T1")
	assert.Error(t, err, "only the requested rules are indexed")
}

func TestRuleIndexSync_EnsureIndex(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	idx := newTestRuleIndex(t)
	sync := newTestSync(store, idx, 10)

	rebuilt, err := sync.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.False(t, rebuilt, "empty store needs no rebuild")

	seedCatalog(store, 5, 1, 1)

	rebuilt, err = sync.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt)

	ids, err := idx.RuleIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	rebuilt, err = sync.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.False(t, rebuilt)
}

func TestRuleIndexSync_DeleteActiveRules(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	ids := seedCatalog(store, 20, 1, 1)

	idx := newTestRuleIndex(t)
	sync := newTestSync(store, idx, 10)
	require.NoError(t, sync.IndexActiveRules(ctx, ids))

	active, err := idx.ActiveRuleIDs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, sync.DeleteActiveRules(ctx, active[:1]))

	remaining, err := idx.ActiveRuleIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, active[1:], remaining)
}

func TestRuleIndexSync_PropagatesIndexFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seedChars(defaultCharacteristics()...)
	ids := seedCatalog(store, 3, 1, 1)

	idx := newTestRuleIndex(t)
	idx.SetFailWrites(true)

	err := newTestSync(store, idx, 10).IndexRules(ctx, ids)
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
