package updater

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/payload"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
	"github.com/moffa90/go-timonel/twi/twitest"
)

// testPayload returns an image whose reset vector jumps to 0x0020.
func testPayload(size int) *payload.Payload {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	data[0], data[1] = 0x0F, 0xC0
	return &payload.Payload{Data: data}
}

func sessionIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

func newTestUpdater(bus twi.Bus, out *bytes.Buffer, opts ...Option) *Updater {
	base := []Option{
		WithConsole(console.New(out, console.WithStarDelay(0))),
		WithSessionIDFunc(sessionIDs()),
		WithClientOptions(
			bootloader.WithRetryDelay(0),
			bootloader.WithPageWriteDelay(0),
			bootloader.WithDeleteDelay(0),
		),
	}
	return New(bus, append(base, opts...)...)
}

func TestRunUpdatesAllSlaves(t *testing.T) {
	a, b := twitest.NewTimonel(0x0B), twitest.NewTimonel(0x0D)
	bus := twitest.NewBus(a, b)
	p := testPayload(150)

	var out bytes.Buffer
	u := newTestUpdater(bus, &out, WithPayload(p), WithBoard("esp8266 (SDA=2 SCL=0)"))

	cycles, err := u.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, cycles, 3)

	for i, cycle := range cycles {
		assert.Equal(t, i+1, cycle.Number)
		assert.Equal(t, fmt.Sprintf("session-%d", i+1), cycle.Session)
		require.Len(t, cycle.Results, 2)
		for _, res := range cycle.Results {
			assert.Equal(t, i == 0, res.Updated, "cycle %d addr 0x%02X", cycle.Number, res.Addr)
			assert.True(t, res.Started)
			assert.Empty(t, res.Error)
		}
	}

	for _, slave := range []*twitest.Timonel{a, b} {
		assert.True(t, slave.InApplication())
		assert.Equal(t, p.Data[2:], slave.Flash()[2:150])
	}

	text := out.String()
	assert.Contains(t, text, console.ClearScreen)
	assert.Contains(t, text, "Board: esp8266 (SDA=2 SCL=0)")
	assert.Contains(t, text, "Cycle 3 (session-3)")
	assert.Contains(t, text, "0x0D: application started on 0x29")
	assert.Contains(t, text, "0x27: application reset")
}

func TestSetupResetsRunningApplications(t *testing.T) {
	slave := twitest.NewTimonel(0x0B)
	slave.LoadApplication(testPayload(64).Data)
	bus := twitest.NewBus(slave)

	reply := make([]byte, 1)
	require.NoError(t, bus.Tx(0x0B, []byte{protocol.CmdExitBootloader}, reply))
	require.True(t, slave.InApplication())

	var out bytes.Buffer
	u := newTestUpdater(bus, &out)
	require.NoError(t, u.Setup(context.Background()))

	assert.False(t, slave.InApplication())
	require.Len(t, u.Clients(), 1)
	assert.Equal(t, uint16(0x0B), u.Clients()[0].Addr())
	assert.Contains(t, out.String(), "Device address: 0x0B")
}

func TestSetupNoDevices(t *testing.T) {
	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := u.Setup(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.String(), "*")
}

func TestSetupWaitsPastForeignSlaves(t *testing.T) {
	foreign := twitest.NewTimonel(0x0B)
	foreign.Signature = 'X'

	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(foreign), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := u.Setup(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNoDevices)
}

func TestSetupSkipsForeignSlaves(t *testing.T) {
	foreign := twitest.NewTimonel(0x0A)
	foreign.Signature = 'X'

	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(foreign, twitest.NewTimonel(0x0B)), &out)

	require.NoError(t, u.Setup(context.Background()))
	require.Len(t, u.Clients(), 1)
	assert.Equal(t, uint16(0x0B), u.Clients()[0].Addr())
}

// stuckApp acknowledges a reset but never comes back as a bootloader.
type stuckApp struct{ addr uint16 }

func (s *stuckApp) Answers(addr uint16) bool { return addr == s.addr }

func (s *stuckApp) Transact(addr uint16, w, r []byte) error {
	if len(w) > 0 && len(r) > 0 {
		r[0] = protocol.Ack(w[0])
	}
	return nil
}

func TestSetupApplicationNeverReturns(t *testing.T) {
	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(&stuckApp{addr: 0x27}), &out)

	assert.ErrorIs(t, u.Setup(context.Background()), ErrNoDevices)
	assert.Contains(t, out.String(), "0x27: application reset")
}

func TestSetupMaxDevices(t *testing.T) {
	bus := twitest.NewBus(twitest.NewTimonel(0x08), twitest.NewTimonel(0x09), twitest.NewTimonel(0x0A))

	var out bytes.Buffer
	u := newTestUpdater(bus, &out, WithMaxDevices(2))
	require.NoError(t, u.Setup(context.Background()))
	assert.Len(t, u.Clients(), 2)
}

func TestLoopWithoutSetup(t *testing.T) {
	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(), &out)

	_, err := u.Loop(context.Background())
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestLoopContinuesAfterFailure(t *testing.T) {
	broken := twitest.NewTimonel(0x0B)
	broken.Features = protocol.FeatureCmdReadFlash
	healthy := twitest.NewTimonel(0x0C)
	bus := twitest.NewBus(broken, healthy)

	var out bytes.Buffer
	u := newTestUpdater(bus, &out, WithPayload(testPayload(100)))
	require.NoError(t, u.Setup(context.Background()))

	cycle, err := u.Loop(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorContains(t, err, "device 0x0B")
	assert.True(t, bootloader.IsFeatureError(err))

	require.Len(t, cycle.Results, 2)
	assert.False(t, cycle.Results[0].Updated)
	assert.NotEmpty(t, cycle.Results[0].Error)
	assert.True(t, cycle.Results[1].Updated)
	assert.True(t, cycle.Results[1].Started)
	assert.True(t, healthy.InApplication())
}

func TestLoopWithoutPayloadStartsApplications(t *testing.T) {
	slave := twitest.NewTimonel(0x0B)
	slave.LoadApplication(testPayload(64).Data)

	var out bytes.Buffer
	u := newTestUpdater(twitest.NewBus(slave), &out)
	require.NoError(t, u.Setup(context.Background()))

	cycle, err := u.Loop(context.Background())
	require.NoError(t, err)
	assert.False(t, cycle.Results[0].Updated)
	assert.True(t, slave.InApplication())
	assert.Contains(t, out.String(), "application is up to date")
}

func TestRunTwoStepInitSlaves(t *testing.T) {
	newSlave := func(app []byte) *twitest.Timonel {
		slave := twitest.NewTimonel(0x0B)
		slave.Features |= protocol.FeatureTwoStepInit
		slave.LoadApplication(app)
		return slave
	}

	t.Run("with payload", func(t *testing.T) {
		older := testPayload(120)
		p := testPayload(120)
		p.Data[60] ^= 0xFF
		slave := newSlave(older.Data)

		var out bytes.Buffer
		u := newTestUpdater(twitest.NewBus(slave), &out, WithPayload(p))

		cycles, err := u.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, cycles, 3)
		for i, cycle := range cycles {
			require.Len(t, cycle.Results, 1)
			assert.Equal(t, i == 0, cycle.Results[0].Updated, "cycle %d", cycle.Number)
			assert.True(t, cycle.Results[0].Started)
		}
		assert.True(t, slave.InApplication())
		assert.Equal(t, p.Data[2:], slave.Flash()[2:120])
	})

	t.Run("without payload", func(t *testing.T) {
		slave := newSlave(testPayload(64).Data)

		var out bytes.Buffer
		u := newTestUpdater(twitest.NewBus(slave), &out)

		cycles, err := u.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, cycles, 3)
		for _, cycle := range cycles {
			require.Len(t, cycle.Results, 1)
			assert.False(t, cycle.Results[0].Updated)
			assert.True(t, cycle.Results[0].Started)
		}
		assert.True(t, slave.InApplication())
	})
}

func TestCheckApplUpdate(t *testing.T) {
	p := testPayload(120)
	p.Data[4], p.Data[5] = 1, 2

	changed := testPayload(120)
	changed.Data[4], changed.Data[5] = 1, 2
	changed.Data[60] ^= 0xFF

	older := testPayload(120)
	older.Data[4], older.Data[5] = 1, 1

	tests := []struct {
		name    string
		flashed []byte
		setup   func(*twitest.Timonel)
		opts    []Option
		want    bool
	}{
		{name: "no payload", flashed: nil, want: false},
		{name: "empty slave", opts: []Option{WithPayload(p)}, want: true},
		{name: "same image", flashed: p.Data, opts: []Option{WithPayload(p)}, want: false},
		{name: "forced", flashed: p.Data, opts: []Option{WithPayload(p), WithForceUpdate(true)}, want: true},
		{name: "different image", flashed: changed.Data, opts: []Option{WithPayload(p)}, want: true},
		{
			name:    "cannot read flash",
			flashed: changed.Data,
			setup:   func(s *twitest.Timonel) { s.Features &^= protocol.FeatureCmdReadFlash },
			opts:    []Option{WithPayload(p)},
			want:    false,
		},
		{name: "same version", flashed: changed.Data, opts: []Option{WithPayload(p), WithVersionOffset(4)}, want: false},
		{name: "older version", flashed: older.Data, opts: []Option{WithPayload(p), WithVersionOffset(4)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slave := twitest.NewTimonel(0x0B)
			if tt.flashed != nil {
				slave.LoadApplication(tt.flashed)
			}
			if tt.setup != nil {
				tt.setup(slave)
			}

			var out bytes.Buffer
			u := newTestUpdater(twitest.NewBus(slave), &out, tt.opts...)
			client := bootloader.New(twitest.NewBus(slave), 0x0B)

			got, err := u.CheckApplUpdate(context.Background(), client)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintStatus(t *testing.T) {
	slave := twitest.NewTimonel(0x0B)
	bus := twitest.NewBus(slave)

	var out bytes.Buffer
	u := newTestUpdater(bus, &out)

	status, err := u.PrintStatus(context.Background(), bootloader.New(bus, 0x0B))
	require.NoError(t, err)
	assert.Equal(t, byte(protocol.SignatureTimonel), status.Signature)
	assert.Contains(t, out.String(), "Timonel version: 1.5")
}
