package roster

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTable_AdmitNewPlayer(t *testing.T) {
	table := NewTable[*testRecord]()

	record, reconnected, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	require.False(t, reconnected)
	require.Equal(t, "alice", record.name)
	require.True(t, record.Connected())
	require.Equal(t, ClientID(1), record.OwnerClient())

	playerID, ok := table.PlayerOf(1)
	require.True(t, ok)
	require.Equal(t, "p1", playerID)

	byClient, ok := table.RecordByClient(1)
	require.True(t, ok)
	require.Same(t, record, byClient)

	byPlayer, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.Same(t, record, byPlayer)

	require.Equal(t, 1, table.Len())
}

func TestTable_AdmitRejectsDuplicateIdentity(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	_, _, err = table.Admit(2, "p1", &testRecord{name: "mallory"})
	require.ErrorIs(t, err, ErrDuplicateIdentity)

	// The failed admission must leave the table untouched.
	_, ok := table.PlayerOf(2)
	require.False(t, ok)
	record, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.Equal(t, "alice", record.name)
	require.Equal(t, ClientID(1), record.OwnerClient())
	require.Equal(t, 1, table.Len())
}

func TestTable_AdmitRejectsBoundClient(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	_, _, err = table.Admit(1, "p2", &testRecord{name: "bob"})
	require.ErrorIs(t, err, ErrClientBound)

	_, ok := table.RecordByPlayer("p2")
	require.False(t, ok)
}

func TestTable_AdmitRequiresPlayerID(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "", &testRecord{})
	require.Error(t, err)
	require.Equal(t, 0, table.Len())
}

func TestTable_ReconnectionPreservesData(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	original, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	original.spawned = true

	table.Disconnect(1)
	require.False(t, original.Connected())

	replacement := &testRecord{name: "someone else"}
	record, reconnected, err := table.Admit(2, "p1", replacement)
	require.NoError(t, err)
	require.True(t, reconnected)

	// The retained record wins; the replacement's fields are discarded.
	require.Same(t, original, record)
	require.Equal(t, "alice", record.name)
	require.True(t, record.spawned)
	require.True(t, record.Connected())
	require.Equal(t, ClientID(2), record.OwnerClient())

	// The superseded connection no longer resolves to the player.
	_, ok := table.PlayerOf(1)
	require.False(t, ok)
	playerID, ok := table.PlayerOf(2)
	require.True(t, ok)
	require.Equal(t, "p1", playerID)
}

func TestTable_DisconnectBeforeSessionForgets(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	table.Disconnect(1)

	_, ok := table.RecordByPlayer("p1")
	require.False(t, ok)
	_, ok = table.PlayerOf(1)
	require.False(t, ok)
	require.Equal(t, 0, table.Len())

	// A later admission starts over rather than resuming anything.
	record, reconnected, err := table.Admit(2, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	require.False(t, reconnected)
	require.False(t, record.spawned)
}

func TestTable_DisconnectDuringSessionRetains(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	record, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	table.Disconnect(1)

	stored, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.Same(t, record, stored)
	require.False(t, stored.Connected())
	require.False(t, table.IsDuplicate("p1"))
	require.Equal(t, 1, table.Len())
}

func TestTable_DisconnectUnknownClientIsNoop(t *testing.T) {
	table := NewTable[*testRecord]()
	table.Disconnect(42)
	require.Equal(t, 0, table.Len())
}

func TestTable_StaleDisconnectCannotClobberNewOwner(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	table.Disconnect(1)

	_, _, err = table.Admit(2, "p1", &testRecord{})
	require.NoError(t, err)

	// A straggling disconnect for the superseded connection must not touch
	// the record now owned by the new connection.
	table.Disconnect(1)

	record, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.True(t, record.Connected())
	require.Equal(t, ClientID(2), record.OwnerClient())
	_, ok = table.PlayerOf(2)
	require.True(t, ok)
}

func TestTable_EndSessionDropsDisconnectedAndReinitializesSurvivors(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	survivor, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	survivor.spawned = true

	_, _, err = table.Admit(2, "p2", &testRecord{name: "bob"})
	require.NoError(t, err)
	table.Disconnect(2)

	table.EndSession()

	// The disconnected player is gone, binding and all.
	_, ok := table.RecordByPlayer("p2")
	require.False(t, ok)
	_, ok = table.PlayerOf(2)
	require.False(t, ok)

	// The survivor keeps identity but has round state reset.
	record, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.Same(t, survivor, record)
	require.Equal(t, "alice", record.name)
	require.False(t, record.spawned)
	require.True(t, record.Connected())
	require.Equal(t, ClientID(1), record.OwnerClient())

	require.False(t, table.SessionActive())
	require.Equal(t, 1, table.Len())
}

func TestTable_EndSessionWhileInactive(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	table.EndSession()

	record, ok := table.RecordByPlayer("p1")
	require.True(t, ok)
	require.True(t, record.Connected())
	require.False(t, table.SessionActive())
}

func TestTable_ResetClearsEverything(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	_, _, err = table.Admit(2, "p2", &testRecord{name: "bob"})
	require.NoError(t, err)
	table.Disconnect(2)

	table.Reset()

	require.Equal(t, 0, table.Len())
	require.False(t, table.SessionActive())
	_, ok := table.PlayerOf(1)
	require.False(t, ok)
	_, ok = table.RecordByPlayer("p1")
	require.False(t, ok)
	_, ok = table.RecordByPlayer("p2")
	require.False(t, ok)

	// The table is reusable for a fresh server lifetime.
	_, reconnected, err := table.Admit(3, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	require.False(t, reconnected)
}

func TestTable_SetRecordReplacesAndStamps(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)

	// Whatever the caller left in the binding fields is overridden.
	next := &testRecord{name: "alice", spawned: true, owner: 99, connected: false}
	require.NoError(t, table.SetRecord(1, next))

	record, ok := table.RecordByClient(1)
	require.True(t, ok)
	require.Same(t, next, record)
	require.True(t, record.Connected())
	require.Equal(t, ClientID(1), record.OwnerClient())
	require.True(t, record.spawned)
}

func TestTable_SetRecordUnknownClient(t *testing.T) {
	table := NewTable[*testRecord]()

	err := table.SetRecord(7, &testRecord{})
	require.ErrorIs(t, err, ErrUnknownClient)
}

func TestTable_IsDuplicate(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	require.False(t, table.IsDuplicate("p1"))

	_, _, err := table.Admit(1, "p1", &testRecord{})
	require.NoError(t, err)
	require.True(t, table.IsDuplicate("p1"))

	table.Disconnect(1)
	require.False(t, table.IsDuplicate("p1"))
}

func TestTable_NotificationsFireAfterCommit(t *testing.T) {
	table := NewTable[*testRecord]()
	listener := &recordingListener{}
	table.Subscribe(listener)

	// The probe queries the table from inside the callback, which both
	// verifies the mutation is visible and would deadlock if notifications
	// were emitted under the table lock.
	probe := &probeListener{table: table}
	table.Subscribe(probe)

	table.StartSession()
	record, _, err := table.Admit(1, "p1", &testRecord{name: "alice"})
	require.NoError(t, err)
	require.NoError(t, table.SetRecord(1, record))
	table.EndSession()
	table.Reset()

	require.Equal(t, []string{"started", "admitted c1 p1", "updated c1", "ended"}, listener.events)

	require.Len(t, probe.admittedVisible, 1)
	require.True(t, probe.admittedVisible[0])
}

func TestTable_SnapshotOrdersByPlayerID(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "zoe", &testRecord{name: "zoe"})
	require.NoError(t, err)
	_, _, err = table.Admit(2, "alice", &testRecord{name: "alice"})
	require.NoError(t, err)

	entries := table.Snapshot()
	require.Len(t, entries, 2)
	require.Equal(t, "alice", entries[0].PlayerID)
	require.Equal(t, ClientID(2), entries[0].Client)
	require.Equal(t, "zoe", entries[1].PlayerID)
	require.Equal(t, ClientID(1), entries[1].Client)

	require.Equal(t, []ClientID{1, 2}, table.Clients())
}

func TestTable_ViewMethodsProjectUnderLock(t *testing.T) {
	table := NewTable[*testRecord]()

	_, _, err := table.Admit(1, "zoe", &testRecord{name: "zoe"})
	require.NoError(t, err)
	_, _, err = table.Admit(2, "alice", &testRecord{name: "alice"})
	require.NoError(t, err)

	var name string
	require.True(t, table.ViewClient(1, func(r *testRecord) { name = r.name }))
	require.Equal(t, "zoe", name)
	require.False(t, table.ViewClient(9, func(*testRecord) { t.Fatal("view ran for unknown client") }))

	require.True(t, table.ViewPlayer("alice", func(r *testRecord) { name = r.name }))
	require.Equal(t, "alice", name)
	require.False(t, table.ViewPlayer("ghost", func(*testRecord) { t.Fatal("view ran for unknown player") }))

	var order []string
	table.ViewEach(func(playerID string, r *testRecord) {
		order = append(order, playerID)
		require.Equal(t, playerID, r.name)
	})
	require.Equal(t, []string{"alice", "zoe"}, order)
}

func TestTable_ConcurrentViewsAndMutations(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	_, _, err := table.Admit(1, "p1", &testRecord{name: "p1"})
	require.NoError(t, err)

	done := make(chan struct{})
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := table.SetRecord(1, &testRecord{name: "p1", spawned: i%2 == 0}); err != nil {
				errs <- err
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			var viewErr error
			table.ViewEach(func(playerID string, r *testRecord) {
				if playerID != r.name || !r.Connected() {
					viewErr = fmt.Errorf("torn view for %s", playerID)
				}
			})
			table.ViewPlayer("p1", func(r *testRecord) {
				if r.OwnerClient() != 1 {
					viewErr = fmt.Errorf("wrong owner %d", r.OwnerClient())
				}
			})
			if viewErr != nil {
				errs <- viewErr
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestTable_ConcurrentAdmitsAndQueries(t *testing.T) {
	table := NewTable[*testRecord]()
	table.StartSession()

	const players = 50
	var wg sync.WaitGroup
	errs := make(chan error, players)
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := ClientID(i + 1)
			playerID := fmt.Sprintf("p%02d", i)
			_, _, err := table.Admit(client, playerID, &testRecord{name: playerID})
			if err != nil {
				errs <- err
				return
			}
			table.IsDuplicate(playerID)
			_, _ = table.RecordByClient(client)
			if i%2 == 0 {
				table.Disconnect(client)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, players, table.Len())
	for _, entry := range table.Snapshot() {
		require.Equal(t, entry.PlayerID, entry.Record.name)
	}
}

type testRecord struct {
	name      string
	spawned   bool
	connected bool
	owner     ClientID
}

func (r *testRecord) Connected() bool            { return r.connected }
func (r *testRecord) SetConnected(v bool)        { r.connected = v }
func (r *testRecord) OwnerClient() ClientID      { return r.owner }
func (r *testRecord) SetOwnerClient(id ClientID) { r.owner = id }
func (r *testRecord) Reinitialize()              { r.spawned = false }

type recordingListener struct {
	events []string
}

func (l *recordingListener) SessionStarted() { l.events = append(l.events, "started") }
func (l *recordingListener) SessionEnded()   { l.events = append(l.events, "ended") }

func (l *recordingListener) RecordAdmitted(client ClientID, playerID string, _ *testRecord) {
	l.events = append(l.events, fmt.Sprintf("admitted c%d %s", client, playerID))
}

func (l *recordingListener) RecordUpdated(client ClientID, _ *testRecord) {
	l.events = append(l.events, fmt.Sprintf("updated c%d", client))
}

type probeListener struct {
	table           *Table[*testRecord]
	admittedVisible []bool
}

func (p *probeListener) SessionStarted() {}
func (p *probeListener) SessionEnded()   {}

func (p *probeListener) RecordAdmitted(client ClientID, playerID string, record *testRecord) {
	stored, ok := p.table.RecordByPlayer(playerID)
	p.admittedVisible = append(p.admittedVisible, ok && stored == record)
}

func (p *probeListener) RecordUpdated(ClientID, *testRecord) {}
