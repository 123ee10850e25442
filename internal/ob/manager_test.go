package ob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkernel/kernel-core/internal/kstatus"
)

func newTestManager() (*Manager, CallerInfo) {
	m := NewManager()
	tok := m.RegisterProcess(100)
	return m, CallerInfo{PID: 100, UID: 1000, GID: 1000, Ring: 3, Token: tok}
}

func TestCreateHandleCloseHandleRestoresCounts(t *testing.T) {
	m, caller := newTestManager()

	h, err := m.CreateObject(TypeEvent, nil, "", SecurityDescriptor{OwnerUID: 1000, GroupGID: 1000, Mode: 0666})
	require.NoError(t, err)
	require.Equal(t, 1, h.RefCount)
	require.Equal(t, 0, h.HandleCount)

	tok, err := m.CreateHandle(caller, h, R_OK)
	require.NoError(t, err)
	assert.Equal(t, 2, h.RefCount)
	assert.Equal(t, 1, h.HandleCount)

	require.NoError(t, m.CloseHandle(caller.PID, tok))
	assert.Equal(t, 1, h.RefCount)
	assert.Equal(t, 0, h.HandleCount)
}

func TestScenario1TokenMismatch(t *testing.T) {
	m := NewManager()
	tokA := m.RegisterProcess(100)
	m.RegisterProcess(101)

	callerA := CallerInfo{PID: 100, UID: 0, GID: 0, Ring: 3, Token: tokA}

	dev, err := m.CreateObject(TypeDevice, nil, `\DosDevices\dev\tty`, SecurityDescriptor{Mode: 0666})
	require.NoError(t, err)

	h1, err := m.OpenHandle(callerA, "/dev/tty", R_OK)
	require.NoError(t, err)

	// Process B (PID 101, ring 3, untrusted since >= TrustedPIDThreshold)
	// tries to reference A's handle using its own (different) token.
	tokB, _ := m.SynapseToken(101)
	callerB := CallerInfo{PID: 101, UID: 0, GID: 0, Ring: 3, Token: tokB}

	_, err = m.ReferenceByHandle(CallerInfo{PID: 101, UID: 0, GID: 0, Ring: 3, Token: callerB.Token}, h1, R_OK)
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.TokenMismatch))

	m.Dereference(dev)
}

func TestTrustedPIDBypassesTokenCheck(t *testing.T) {
	m := NewManager()
	tok := m.RegisterProcess(100)
	caller := CallerInfo{PID: 100, UID: 0, GID: 0, Ring: 3, Token: tok}

	h, err := m.CreateObject(TypeEvent, nil, "", SecurityDescriptor{Mode: 0666})
	require.NoError(t, err)
	handleTok, err := m.CreateHandle(caller, h, R_OK)
	require.NoError(t, err)

	// PID 100 is not trusted, so presenting the wrong token is denied; PID 5
	// is below TrustedPIDThreshold and is authorized whatever token it
	// presents, because trusted PIDs bypass sMLTR.
	trusted := CallerInfo{PID: 5, Ring: 3, Token: "bogus"}
	_, err = m.ReferenceByHandle(CallerInfo{PID: caller.PID, Ring: trusted.Ring, Token: "wrong-token"}, handleTok, R_OK)
	assert.Error(t, err) // same pid, wrong token: still denied

	ok := m.authorized(CallerInfo{PID: 5, Ring: 3, Token: "anything"}, "bound-token")
	assert.True(t, ok)
}

func TestElevateInvalidatesHandles(t *testing.T) {
	m, caller := newTestManager()

	h, err := m.CreateObject(TypeMutex, nil, "", SecurityDescriptor{Mode: 0666})
	require.NoError(t, err)
	tok, err := m.CreateHandle(caller, h, R_OK)
	require.NoError(t, err)

	_, err = m.ReferenceByHandle(caller, tok, R_OK)
	require.NoError(t, err)

	newTok := m.Elevate(caller.PID)
	assert.NotEqual(t, caller.Token, newTok)

	elevatedCaller := CallerInfo{PID: caller.PID, Ring: caller.Ring, Token: newTok}
	_, err = m.ReferenceByHandle(elevatedCaller, tok, R_OK)
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.TokenMismatch))
}

func TestInheritHandlesCopiesStandardSlots(t *testing.T) {
	m := NewManager()
	parentTok := m.RegisterProcess(30)
	m.RegisterProcess(31)
	parent := CallerInfo{PID: 30, Ring: 3, Token: parentTok}

	h, err := m.CreateObject(TypeFile, nil, "", SecurityDescriptor{Mode: 0666})
	require.NoError(t, err)
	tok, err := m.CreateHandle(parent, h, R_OK|W_OK)
	require.NoError(t, err)

	parentHT, _ := m.handleTable(30)
	parentHT.SetStandard(StdOut, tok)

	require.NoError(t, m.InheritHandles(30, 31))

	childHT, _ := m.handleTable(31)
	childTok, ok := childHT.GetStandard(StdOut)
	require.True(t, ok)

	e, ok := childHT.Get(childTok)
	require.True(t, ok)
	assert.Equal(t, h.ID, e.Object)
	assert.Equal(t, 3, h.RefCount) // creator + parent handle + child handle
	assert.Equal(t, 2, h.HandleCount)
}

func TestLookupWrongType(t *testing.T) {
	m := NewManager()
	_, err := m.CreateObject(TypeEvent, nil, `\test\ev`, SecurityDescriptor{Mode: 0666})
	require.NoError(t, err)

	wantType := TypeMutex
	_, err = m.LookupObject(`\test\ev`, &wantType)
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.WrongType))
}

func TestInsertObjectPathCollision(t *testing.T) {
	m := NewManager()
	_, err := m.CreateObject(TypeDirectory, &Directory{}, `\test`, SecurityDescriptor{Mode: 0777})
	require.NoError(t, err)

	_, err = m.CreateObject(TypeDirectory, &Directory{}, `\test`, SecurityDescriptor{Mode: 0777})
	require.Error(t, err)
	assert.True(t, kstatus.Is(err, kstatus.PathExists))
}
