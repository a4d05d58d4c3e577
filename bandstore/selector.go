package bandstore

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// Selector chooses what the camera points at. Implementations must be safe
// for use by a single capture at a time; callers serialise captures.
type Selector interface {
	PickCategory(categories []model.Category) model.Category
	PickScene(scenes []string) string
}

// RandomSelector picks uniformly at random, first the category and then a
// scene within it.
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector returns a uniform selector. A zero seed draws one from the
// wall clock.
func NewRandomSelector(seed uint64) *RandomSelector {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomSelector) PickCategory(categories []model.Category) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return categories[s.rng.IntN(len(categories))]
}

func (s *RandomSelector) PickScene(scenes []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scenes[s.rng.IntN(len(scenes))]
}

// ScriptedSelector replays a fixed sequence of scenes. When the script is
// exhausted it starts over. Useful for deterministic runs and tests.
type ScriptedSelector struct {
	mu     sync.Mutex
	script []model.SceneRef
	next   int
	cur    model.SceneRef
}

// NewScriptedSelector returns a selector that yields script in order.
func NewScriptedSelector(script ...model.SceneRef) *ScriptedSelector {
	return &ScriptedSelector{script: script}
}

// PickCategory advances the script and returns the category of the new entry.
func (s *ScriptedSelector) PickCategory([]model.Category) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return model.CategoryClear
	}
	s.cur = s.script[s.next%len(s.script)]
	s.next++
	return s.cur.Category
}

// PickScene returns the scene ID of the current script entry, regardless of
// the listing.
func (s *ScriptedSelector) PickScene(scenes []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.ID == "" && len(scenes) > 0 {
		return scenes[0]
	}
	return s.cur.ID
}
