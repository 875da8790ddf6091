package moderation

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const DefaultRuleCacheTTL = 5 * time.Minute

// RuleCache keeps each project's active rules, sorted by descending priority,
// for a fixed TTL. Returned slices are copies detached from the store.
type RuleCache struct {
	store RuleStore
	ttl   time.Duration
	lru   *expirable.LRU[uint, []Rule]
	group singleflight.Group
}

// NewRuleCache creates a cache over store. maxProjects bounds how many projects
// are kept at once; zero means unbounded.
func NewRuleCache(store RuleStore, ttl time.Duration, maxProjects int) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &RuleCache{
		store: store,
		ttl:   ttl,
		lru:   expirable.NewLRU[uint, []Rule](maxProjects, nil, ttl),
	}
}

// Get returns the active rules for projectID, fetching from the store on miss.
func (c *RuleCache) Get(ctx context.Context, projectID uint) ([]Rule, error) {
	if rules, ok := c.lru.Get(projectID); ok {
		return copyRules(rules), nil
	}

	// The load is shared by every caller waiting on this project, so one
	// caller's cancellation must not fail the rest.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(strconv.FormatUint(uint64(projectID), 10), func() (interface{}, error) {
		rules, err := c.store.ListActiveRules(loadCtx, projectID)
		if err != nil {
			return nil, err
		}
		active := SortRules(rules)
		c.lru.Add(projectID, active)
		logger.Debug().Uint("project_id", projectID).Int("rules", len(active)).Msg("[RuleCache] Rules loaded")
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return copyRules(v.([]Rule)), nil
}

// Invalidate drops the given projects, or every project when called without ids.
func (c *RuleCache) Invalidate(projectIDs ...uint) {
	if len(projectIDs) == 0 {
		c.lru.Purge()
		return
	}
	for _, id := range projectIDs {
		c.lru.Remove(id)
	}
}

type RuleCacheStats struct {
	Projects   int     `json:"projects"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (c *RuleCache) Stats() RuleCacheStats {
	return RuleCacheStats{Projects: c.lru.Len(), TTLSeconds: c.ttl.Seconds()}
}

// SortRules keeps active rules only and orders them by descending priority.
// Rules with equal priority keep their input order.
func SortRules(rules []Rule) []Rule {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active
}

// PartitionRules splits ordered rules into fast (keyword, regex) and AI rules,
// preserving order within each group.
func PartitionRules(rules []Rule) (fast, ai []Rule) {
	for _, r := range rules {
		switch {
		case r.Type.IsFast():
			fast = append(fast, r)
		case r.Type == RuleTypeAIPrompt:
			ai = append(ai, r)
		}
	}
	return fast, ai
}

func copyRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
