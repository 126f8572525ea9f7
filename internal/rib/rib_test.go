package rib

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) Prefix {
	t.Helper()
	p, err := ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func TestAddRouteReplacesByPrefix(t *testing.T) {
	r := New()
	net1 := mustPrefix(t, "10.0.0.0/24")

	r.AddRoute(RouteEntry{Network: net1, NextHop: net.ParseIP("192.168.1.1"), LocalPref: 100, Timestamp: time.Now()})
	v1 := r.Version()
	r.AddRoute(RouteEntry{Network: net1, NextHop: net.ParseIP("192.168.1.2"), LocalPref: 150, Timestamp: time.Now()})
	v2 := r.Version()

	entry, ok := r.Get(net1)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.2", entry.NextHop.String())
	assert.Greater(t, v2, v1)
	assert.Len(t, r.Snapshot(), 1)
}

func TestFindBestRouteLongestPrefixMatch(t *testing.T) {
	r := New()
	wide := mustPrefix(t, "10.0.0.0/8")
	narrow := mustPrefix(t, "10.1.0.0/16")

	r.AddRoute(RouteEntry{Network: wide, NextHop: net.ParseIP("1.1.1.1"), Timestamp: time.Now()})
	r.AddRoute(RouteEntry{Network: narrow, NextHop: net.ParseIP("2.2.2.2"), Timestamp: time.Now()})

	best, ok := r.FindBestRoute(net.ParseIP("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, "2.2.2.2", best.NextHop.String())

	best, ok = r.FindBestRoute(net.ParseIP("10.2.0.1"))
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1", best.NextHop.String())

	_, ok = r.FindBestRoute(net.ParseIP("172.16.0.1"))
	assert.False(t, ok)
}

func TestRemoveRouteIncrementsVersionOnlyOnHit(t *testing.T) {
	r := New()
	p := mustPrefix(t, "10.0.0.0/24")
	r.AddRoute(RouteEntry{Network: p, NextHop: net.ParseIP("10.0.0.1"), Timestamp: time.Now()})
	before := r.Version()

	_, ok := r.RemoveRoute(mustPrefix(t, "192.168.0.0/24"))
	assert.False(t, ok)
	assert.Equal(t, before, r.Version())

	removed, ok := r.RemoveRoute(p)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", removed.NextHop.String())
	assert.Greater(t, r.Version(), before)

	_, ok = r.Get(p)
	assert.False(t, ok)
}

func TestBestOfTieBreak(t *testing.T) {
	a := RouteEntry{LocalPref: 100, ASPath: []uint32{1, 2}, Origin: OriginIGP, MED: 5, NextHop: net.ParseIP("10.0.0.2")}
	b := RouteEntry{LocalPref: 150, ASPath: []uint32{1, 2, 3, 4}, Origin: OriginEGP, MED: 0, NextHop: net.ParseIP("10.0.0.1")}

	best := BestOf(a, b)
	assert.Equal(t, uint32(150), best.LocalPref, "higher local_pref wins regardless of other fields")

	c := RouteEntry{LocalPref: 100, ASPath: []uint32{1, 2, 3}, Origin: OriginIGP, NextHop: net.ParseIP("10.0.0.1")}
	d := RouteEntry{LocalPref: 100, ASPath: []uint32{1}, Origin: OriginIncomplete, NextHop: net.ParseIP("10.0.0.9")}
	best = BestOf(c, d)
	assert.Len(t, best.ASPath, 1, "shorter as_path wins when local_pref ties")
}

func TestPrefixEqualByAddressAndLength(t *testing.T) {
	a := mustPrefix(t, "10.0.0.0/24")
	b := mustPrefix(t, "10.0.0.0/24")
	c := mustPrefix(t, "10.0.0.0/25")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
