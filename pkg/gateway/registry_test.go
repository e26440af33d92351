package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ids(clients []*Client) []string {
	out := make([]string, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.ID)
	}
	return out
}

func TestClientRegistry_AddRemove(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&Client{ID: "a"})
	r.Add(&Client{ID: "b"})
	assert.Equal(t, 2, r.Count())

	_, ok := r.Get("a")
	assert.True(t, ok)

	r.Remove("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, ids(r.All()))
}

func TestClientRegistry_Audience(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&Client{ID: "all"})
	r.Add(&Client{ID: "one"})
	r.Add(&Client{ID: "two"})

	assert.True(t, r.Watch("one", "conv-1"))
	assert.True(t, r.Watch("two", "conv-2"))
	assert.False(t, r.Watch("ghost", "conv-1"))

	assert.ElementsMatch(t, []string{"all", "one"}, ids(r.Audience("conv-1")))
	assert.ElementsMatch(t, []string{"all", "two"}, ids(r.Audience("conv-2")))
	assert.ElementsMatch(t, []string{"all"}, ids(r.Audience("conv-3")))

	r.Unwatch("two", "conv-2")
	assert.ElementsMatch(t, []string{"all", "two"}, ids(r.Audience("conv-3")), "no watches left means everything")

	r.Remove("one")
	r.Add(&Client{ID: "one"})
	assert.ElementsMatch(t, []string{"all", "one", "two"}, ids(r.Audience("conv-2")), "watches do not survive reconnects")
}

func TestClientRegistry_Describe(t *testing.T) {
	r := NewClientRegistry()
	base := time.Now()
	r.Add(&Client{ID: "new", ConnectedAt: base, LastActivity: base})
	r.Add(&Client{ID: "old", ConnectedAt: base.Add(-time.Hour), LastActivity: base.Add(-time.Hour)})
	r.Watch("new", "conv-b")
	r.Watch("new", "conv-a")

	infos := r.Describe()
	assert.Len(t, infos, 2)
	assert.Equal(t, "old", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.Empty(t, infos[0].Watching)
	assert.Equal(t, "new", infos[1].ID)
	assert.False(t, infos[1].Idle)
	assert.Equal(t, []string{"conv-a", "conv-b"}, infos[1].Watching)

	r.Touch("old")
	assert.False(t, r.Describe()[0].Idle)
}
