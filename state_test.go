package tornago

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStateTracker() *StateTracker {
	return &StateTracker{
		logger:   noopLogger{},
		circuits: make(map[string]*Circuit),
		streams:  make(map[string]*Stream),
		addrMaps: make(map[string]*AddrMap),
		routers:  make(map[string]*Router),
	}
}

// registerTestRouters makes ids resolvable by updatePathLocked, standing in
// for routers normally learned from NEWDESC/NS/GETINFO ns/all.
func registerTestRouters(st *StateTracker, ids ...string) {
	for _, id := range ids {
		st.routers[id] = &Router{ID: id}
	}
}

func TestParseKeywordArgs(t *testing.T) {
	t.Run("should parse KEY=VALUE pairs", func(t *testing.T) {
		kw := parseKeywordArgs([]string{"PURPOSE=GENERAL", `REASON="DONE"`})
		require.Equal(t, "GENERAL", kw["PURPOSE"])
		require.Equal(t, "DONE", kw["REASON"])
	})

	t.Run("should key a leading comma-joined fingerprint list as _path", func(t *testing.T) {
		kw := parseKeywordArgs([]string{"$AAAA,$BBBB,$CCCC"})
		require.Equal(t, "$AAAA,$BBBB,$CCCC", kw["_path"])
	})

	t.Run("should ignore fields with neither = nor a path shape", func(t *testing.T) {
		kw := parseKeywordArgs([]string{"GENERAL", "BUILD_FLAGS=NEED_CAPACITY"})
		require.Equal(t, "NEED_CAPACITY", kw["BUILD_FLAGS"])
		require.NotContains(t, kw, "_path")
		require.Len(t, kw, 1)
	})
}

func TestParseCircuitSnapshotLine(t *testing.T) {
	t.Run("should parse id, state and path", func(t *testing.T) {
		c := parseCircuitSnapshotLine("12 BUILT $AAAA~relay1,$BBBB~relay2 PURPOSE=GENERAL")
		require.Equal(t, "12", c.ID)
		require.Equal(t, "BUILT", c.State)
		require.Equal(t, []string{"$AAAA~relay1", "$BBBB~relay2"}, c.Path)
		require.Equal(t, "GENERAL", c.Purpose)
	})

	t.Run("should return an empty circuit for a malformed line", func(t *testing.T) {
		c := parseCircuitSnapshotLine("12")
		require.Empty(t, c.ID)
	})
}

func TestParseStreamSnapshotLine(t *testing.T) {
	t.Run("should parse id, state, circuit and target", func(t *testing.T) {
		s := parseStreamSnapshotLine("7 SUCCEEDED 12 example.com:443 PURPOSE=USER")
		require.Equal(t, "7", s.ID)
		require.Equal(t, "SUCCEEDED", s.State)
		require.Equal(t, "12", s.CircuitID)
		require.Equal(t, "example.com:443", s.Target)
		require.Equal(t, "USER", s.Purpose)
	})

	t.Run("should return an empty stream for a too-short line", func(t *testing.T) {
		s := parseStreamSnapshotLine("7 SUCCEEDED")
		require.Empty(t, s.ID)
	})
}

func TestStateTrackerOnCircuit(t *testing.T) {
	t.Run("should create and update a circuit across events", func(t *testing.T) {
		st := newTestStateTracker()
		registerTestRouters(st, "AAAA", "BBBB")
		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 LAUNCHED PURPOSE=GENERAL"}})
		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 EXTENDED $AAAA~r1,$BBBB~r2 PURPOSE=GENERAL"}})

		circuits := st.Circuits()
		require.Len(t, circuits, 1)
		require.Equal(t, "EXTENDED", circuits[0].State)
		require.Equal(t, []string{"$AAAA~r1", "$BBBB~r2"}, circuits[0].Path)
		require.Len(t, circuits[0].Routers, 2)
	})

	t.Run("should fire circuit_new, circuit_launched and circuit_extend on global and per-object listeners", func(t *testing.T) {
		st := newTestStateTracker()
		registerTestRouters(st, "AAAA")
		var globalEvents, localEvents []string
		st.AddCircuitListener(&recordingCircuitListener{events: &globalEvents})

		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 LAUNCHED"}})
		circ, ok := st.circuits["1"]
		require.True(t, ok)
		circ.Listen(&recordingCircuitListener{events: &localEvents})

		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 EXTENDED $AAAA~r1"}})

		require.Equal(t, []string{"new", "launched", "extend:AAAA"}, globalEvents)
		require.Equal(t, []string{"extend:AAAA"}, localEvents)
	})

	t.Run("should abort the path update and not fire circuit_extend on an unknown router", func(t *testing.T) {
		st := newTestStateTracker()
		var events []string
		st.AddCircuitListener(&recordingCircuitListener{events: &events})

		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 LAUNCHED"}})
		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 EXTENDED $AAAA~r1"}})

		require.Equal(t, []string{"new", "launched"}, events)
		circuits := st.Circuits()
		require.Empty(t, circuits[0].Path)
	})

	t.Run("should reset path on a LAUNCHED event", func(t *testing.T) {
		st := newTestStateTracker()
		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 EXTENDED $AAAA~r1"}})
		st.onCircuit(Event{Keyword: "CIRC", Lines: []string{"CIRC 1 LAUNCHED"}})

		circuits := st.Circuits()
		require.Len(t, circuits, 1)
		require.Nil(t, circuits[0].Path)
	})

	t.Run("should not shrink an already-tracked path", func(t *testing.T) {
		st := newTestStateTracker()
		registerTestRouters(st, "AAAA", "BBBB", "CCCC")
		circ := &Circuit{ID: "1", streams: make(map[string]bool), listeners: &circuitListeners{}}
		st.circuits["1"] = circ
		st.updatePathLocked(circ, []string{"$AAAA~r1", "$BBBB~r2", "$CCCC~r3"})
		st.updatePathLocked(circ, []string{"$AAAA~r1"})
		require.Len(t, circ.Path, 3)
	})
}

func TestStateTrackerOnStream(t *testing.T) {
	t.Run("should attach a stream to its circuit", func(t *testing.T) {
		st := newTestStateTracker()
		st.circuits["1"] = &Circuit{ID: "1", streams: make(map[string]bool)}
		st.onStream(Event{Keyword: "STREAM", Lines: []string{"STREAM 7 SUCCEEDED 1 example.com:443"}})

		require.Contains(t, st.circuits["1"].streams, "7")
		streams := st.Streams()
		require.Len(t, streams, 1)
		require.Equal(t, "1", streams[0].CircuitID)
	})

	t.Run("should detach a stream from its circuit on close", func(t *testing.T) {
		st := newTestStateTracker()
		st.circuits["1"] = &Circuit{ID: "1", streams: make(map[string]bool)}
		st.onStream(Event{Keyword: "STREAM", Lines: []string{"STREAM 7 SUCCEEDED 1 example.com:443"}})
		st.onStream(Event{Keyword: "STREAM", Lines: []string{"STREAM 7 CLOSED 1 example.com:443"}})

		require.NotContains(t, st.circuits["1"].streams, "7")
		require.Empty(t, st.Streams())
	})

	t.Run("should fire stream_new and stream_succeeded on global listeners", func(t *testing.T) {
		st := newTestStateTracker()
		var events []string
		st.AddStreamListener(&recordingStreamListener{events: &events})

		st.onStream(Event{Keyword: "STREAM", Lines: []string{"STREAM 7 SUCCEEDED 1 example.com:443"}})

		require.Equal(t, []string{"new", "succeeded"}, events)
	})

	t.Run("should fire stream_failed with its reason", func(t *testing.T) {
		st := newTestStateTracker()
		var events []string
		st.AddStreamListener(&recordingStreamListener{events: &events})

		st.onStream(Event{Keyword: "STREAM", Lines: []string{`STREAM 7 FAILED 1 example.com:443 REASON=TIMEOUT`}})

		require.Equal(t, []string{"new", "failed:TIMEOUT"}, events)
	})
}

func TestStateTrackerOnAddrMap(t *testing.T) {
	t.Run("should record an address mapping", func(t *testing.T) {
		st := newTestStateTracker()
		st.onAddrMap(Event{Keyword: "ADDRMAP", Lines: []string{`ADDRMAP example.com 93.184.216.34 "2030-01-01 00:00:00"`}})

		maps := st.AddrMaps()
		require.Len(t, maps, 1)
		require.Equal(t, "example.com", maps[0].From)
		require.Equal(t, "93.184.216.34", maps[0].To)
	})
}

func TestParseRouterStatusLines(t *testing.T) {
	t.Run("should decode an r line's base64 identity to hex", func(t *testing.T) {
		// "AAAAAAAAAAAAAAAAAAAAAAAAAAA" base64-decodes to 20 zero bytes.
		routers := parseRouterStatusLines([]string{"r relay1 AAAAAAAAAAAAAAAAAAAAAAAAAAA 2024-01-01 00:00:00 1.2.3.4 9001 0"})
		require.Len(t, routers, 1)
		r, ok := routers["0000000000000000000000000000000000000000"]
		require.True(t, ok)
		require.Equal(t, "relay1", r.Nickname)
	})

	t.Run("should skip non-r lines and malformed identities", func(t *testing.T) {
		routers := parseRouterStatusLines([]string{"s Fast Guard", "r"})
		require.Empty(t, routers)
	})
}

func TestOnNewDesc(t *testing.T) {
	t.Run("should register a router from its fingerprint and nickname", func(t *testing.T) {
		st := newTestStateTracker()
		st.onNewDesc(Event{Keyword: "NEWDESC", Lines: []string{
			"NEWDESC " + "$" + strings.Repeat("A", 40) + "~relay1",
		}})
		r, ok := st.routers[strings.Repeat("A", 40)]
		require.True(t, ok)
		require.Equal(t, "relay1", r.Nickname)
	})
}

type recordingCircuitListener struct {
	events *[]string
}

func (l *recordingCircuitListener) CircuitNew(c *Circuit)      { *l.events = append(*l.events, "new") }
func (l *recordingCircuitListener) CircuitLaunched(c *Circuit) { *l.events = append(*l.events, "launched") }
func (l *recordingCircuitListener) CircuitExtend(c *Circuit, router *Router) {
	*l.events = append(*l.events, "extend:"+router.ID)
}
func (l *recordingCircuitListener) CircuitBuilt(c *Circuit)  { *l.events = append(*l.events, "built") }
func (l *recordingCircuitListener) CircuitClosed(c *Circuit) { *l.events = append(*l.events, "closed") }
func (l *recordingCircuitListener) CircuitFailed(c *Circuit, reason string) {
	*l.events = append(*l.events, "failed:"+reason)
}

type recordingStreamListener struct {
	events *[]string
}

func (l *recordingStreamListener) StreamNew(s *Stream) { *l.events = append(*l.events, "new") }
func (l *recordingStreamListener) StreamSucceeded(s *Stream) {
	*l.events = append(*l.events, "succeeded")
}
func (l *recordingStreamListener) StreamClosed(s *Stream) { *l.events = append(*l.events, "closed") }
func (l *recordingStreamListener) StreamFailed(s *Stream, reason string) {
	*l.events = append(*l.events, "failed:"+reason)
}
