package bootloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-timonel/payload"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
)

// Client talks to one slave running the Timonel bootloader.
// It handles status queries, application upload with page addressing and
// trampoline generation, verification and the run/delete/reset commands.
//
// Clients sharing a bus should share a twi.NewLockedBus wrapper.
type Client struct {
	dev    *twi.Device
	config Config
}

// New creates a new Client for the slave at addr on bus.
//
// Example:
//
//	bus, _ := twi.OpenBus("1", 0)
//	client := bootloader.New(bus, 0x0B,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithRetries(5),
//	)
func New(bus twi.Bus, addr uint16, opts ...Option) *Client {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		dev:    &twi.Device{Bus: bus, Addr: addr},
		config: cfg,
	}
}

// Addr returns the slave bootloader address.
func (c *Client) Addr() uint16 {
	return c.dev.Addr
}

// AppAddr returns the address the slave answers on while running its application.
func (c *Client) AppAddr() uint16 {
	return c.dev.Addr + twi.AppAddrOffset
}

// GetStatus queries the bootloader status block.
func (c *Client) GetStatus(ctx context.Context) (*protocol.Status, error) {
	reply, err := c.command(ctx, protocol.CmdGetVersion, true)
	if err != nil {
		return nil, err
	}
	return protocol.ParseGetVersionReply(reply)
}

// Identify queries the status, checks the bootloader signature and
// completes the two-step initialization when the bootloader requires it.
func (c *Client) Identify(ctx context.Context) (*protocol.Status, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !status.IsTimonel(c.config.Signature) {
		return nil, &SignatureError{Addr: c.dev.Addr, Expected: c.config.Signature, Actual: status.Signature}
	}
	if err := c.initialize(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

// ready queries the status and completes the two-step initialization.
// A TWO_STEP_INIT bootloader answers only GETTMNLV and INITSOFT until
// initialized, and drops back to that state after every restart.
func (c *Client) ready(ctx context.Context) (*protocol.Status, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if err := c.initialize(ctx, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) initialize(ctx context.Context, status *protocol.Status) error {
	if !status.Has(protocol.FeatureTwoStepInit) {
		return nil
	}
	if err := c.InitSoft(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}

// InitSoft completes the two-step initialization of bootloaders built with
// TWO_STEP_INIT. Other builds acknowledge it as well.
func (c *Client) InitSoft(ctx context.Context) error {
	reply, err := c.command(ctx, protocol.CmdInitSoft, true)
	if err != nil {
		return err
	}
	return protocol.ParseAck(protocol.CmdInitSoft, reply)
}

// ResetDevice resets the slave microcontroller.
func (c *Client) ResetDevice(ctx context.Context) error {
	if _, err := c.ready(ctx); err != nil {
		return err
	}

	reply, err := c.command(ctx, protocol.CmdResetMCU, false)
	if err != nil {
		return err
	}
	return protocol.ParseAck(protocol.CmdResetMCU, reply)
}

// RunApplication exits the bootloader. The slave jumps to the trampoline,
// which leads to the application, or restarts the bootloader when none is loaded.
func (c *Client) RunApplication(ctx context.Context) error {
	if _, err := c.ready(ctx); err != nil {
		return err
	}

	reply, err := c.command(ctx, protocol.CmdExitBootloader, false)
	if err != nil {
		return err
	}
	if err := protocol.ParseAck(protocol.CmdExitBootloader, reply); err != nil {
		return err
	}

	c.logInfo("application started", "addr", hexAddr(c.dev.Addr), "app_addr", hexAddr(c.AppAddr()))
	return nil
}

// ResetApplication asks a running application to reset, which brings the
// slave back into the bootloader.
func (c *Client) ResetApplication(ctx context.Context) error {
	app := &twi.Device{Bus: c.dev.Bus, Addr: c.AppAddr()}
	cmd, err := protocol.BuildSimpleCmd(protocol.CmdResetMCU)
	if err != nil {
		return err
	}

	reply := make([]byte, protocol.AckReplySize)
	if err := c.tx(ctx, app, cmd, reply, false); err != nil {
		return err
	}
	return protocol.ParseAck(protocol.CmdResetMCU, reply)
}

// DeleteApplication erases the application flash area. The slave restarts
// afterwards; the client waits DeleteDelay and completes the two-step
// initialization when the bootloader requires it.
func (c *Client) DeleteApplication(ctx context.Context) error {
	status, err := c.ready(ctx)
	if err != nil {
		return err
	}

	reply, err := c.command(ctx, protocol.CmdDeleteFlash, false)
	if err != nil {
		return err
	}
	if err := protocol.ParseAck(protocol.CmdDeleteFlash, reply); err != nil {
		return err
	}

	if err := sleep(ctx, c.config.DeleteDelay); err != nil {
		return err
	}

	if err := c.initialize(ctx, status); err != nil {
		return fmt.Errorf("after delete: %w", err)
	}

	c.logInfo("application deleted", "addr", hexAddr(c.dev.Addr))
	return nil
}

// SetPageAddress sets the flash page the next Write Page packets go to.
func (c *Client) SetPageAddress(ctx context.Context, addr uint16) error {
	status, err := c.ready(ctx)
	if err != nil {
		return err
	}
	return c.setPageAddress(ctx, status, addr)
}

func (c *Client) setPageAddress(ctx context.Context, status *protocol.Status, addr uint16) error {
	if !status.Has(protocol.FeatureCmdSetPgAddr) {
		return &FeatureError{Operation: "set page address", Feature: "CMD_STPGADDR"}
	}

	cmd, err := protocol.BuildSetPageAddrCmd(addr)
	if err != nil {
		return err
	}

	reply := make([]byte, protocol.SetPageAddrReplySize)
	if err := c.tx(ctx, c.dev, cmd, reply, true); err != nil {
		return err
	}
	return protocol.ParseSetPageAddrReply(addr, reply)
}

// ReadFlash reads n bytes of flash starting at addr.
func (c *Client) ReadFlash(ctx context.Context, addr uint16, n int) ([]byte, error) {
	status, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}
	return c.readFlash(ctx, status, addr, n)
}

func (c *Client) readFlash(ctx context.Context, status *protocol.Status, addr uint16, n int) ([]byte, error) {
	if !status.Has(protocol.FeatureCmdReadFlash) {
		return nil, &FeatureError{Operation: "read flash", Feature: "CMD_READFLASH"}
	}
	if n < 0 || int(addr)+n > protocol.FlashSize {
		return nil, fmt.Errorf("read of %d bytes at 0x%04X exceeds flash size %d", n, addr, protocol.FlashSize)
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		size := n - len(out)
		if size > protocol.SlavePacketSize {
			size = protocol.SlavePacketSize
		}
		at := addr + uint16(len(out))

		cmd, err := protocol.BuildReadFlashCmd(at, size)
		if err != nil {
			return nil, err
		}

		reply := make([]byte, size+protocol.ReadFlashOverhead)
		if err := c.tx(ctx, c.dev, cmd, reply, true); err != nil {
			return nil, fmt.Errorf("read flash at 0x%04X: %w", at, err)
		}

		data, err := protocol.ParseReadFlashReply(at, size, reply)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}

	return out, nil
}

// ReadDeviceInfo reads the device signature, fuses and lock bits.
func (c *Client) ReadDeviceInfo(ctx context.Context) (*protocol.DeviceInfo, error) {
	status, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}
	if !status.HasExt(protocol.ExtFeatureCmdReadDevs) {
		return nil, &FeatureError{Operation: "read device info", Feature: "CMD_READDEVS"}
	}

	reply, err := c.command(ctx, protocol.CmdReadDevice, true)
	if err != nil {
		return nil, err
	}
	return protocol.ParseReadDeviceReply(reply)
}

// Program performs the complete update sequence:
//  1. Identify the bootloader and check its signature
//  2. Delete the current application, if any
//  3. Upload the payload at its base address
//
// The application is left stopped; call RunApplication to start it.
func (c *Client) Program(ctx context.Context, p *payload.Payload) error {
	status, err := c.Identify(ctx)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	if status.HasApplication() {
		if err := c.DeleteApplication(ctx); err != nil {
			return fmt.Errorf("delete application: %w", err)
		}
	}

	return c.UploadApplication(ctx, p, uint16(p.Base))
}

// UploadApplication writes the payload to flash starting at start.
//
// When the bootloader lacks AUTO_PAGE_ADDR and start is zero, the client
// rewrites the reset vector to jump into the bootloader and writes the
// trampoline to the application itself. Page addresses are sent before
// every page whenever the bootloader does not track them.
//
// The operation can be cancelled via context.
func (c *Client) UploadApplication(ctx context.Context, p *payload.Payload, start uint16) error {
	if p == nil || p.Size() == 0 {
		return fmt.Errorf("payload cannot be empty")
	}

	startTime := time.Now()

	c.reportProgress(Progress{Addr: c.dev.Addr, Phase: PhaseStatus})

	status, err := c.Identify(ctx)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	image, err := BuildImage(status, p, start)
	if err != nil {
		return err
	}

	autoPage := status.Has(protocol.FeatureAutoPageAddr)
	needAddr := start != 0 || !autoPage
	if needAddr && !status.Has(protocol.FeatureCmdSetPgAddr) {
		return &FeatureError{Operation: "upload without automatic page addressing", Feature: "CMD_STPGADDR"}
	}

	pages := splitPages(image)
	payloadPages := (p.Size() + protocol.PageSize - 1) / protocol.PageSize

	c.logDebug("upload start",
		"addr", hexAddr(c.dev.Addr),
		"start", hexAddr(start),
		"payload_bytes", p.Size(),
		"pages", len(pages),
		"auto_page_addr", autoPage,
	)

	bytesWritten := 0
	written := make([]int, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		// Erased padding between the payload and the trampoline page
		if needAddr && i >= payloadPages && i < len(pages)-1 && isErased(page) {
			continue
		}

		addr := start + uint16(i*protocol.PageSize)
		if err := c.writePage(ctx, status, addr, page, needAddr); err != nil {
			return fmt.Errorf("write page %d (0x%04X): %w", i, addr, err)
		}
		written = append(written, i)

		bytesWritten += len(page)
		c.reportProgress(Progress{
			Addr:         c.dev.Addr,
			Phase:        PhaseWriting,
			CurrentPage:  i + 1,
			TotalPages:   len(pages),
			Percentage:   float64(i+1) / float64(len(pages)) * 90,
			BytesWritten: bytesWritten,
			ElapsedTime:  time.Since(startTime),
		})
	}

	if c.config.VerifyAfterWrite && status.Has(protocol.FeatureCmdReadFlash) {
		c.reportProgress(Progress{
			Addr:         c.dev.Addr,
			Phase:        PhaseVerifying,
			CurrentPage:  len(pages),
			TotalPages:   len(pages),
			Percentage:   92,
			BytesWritten: bytesWritten,
			ElapsedTime:  time.Since(startTime),
		})

		for _, i := range written {
			addr := start + uint16(i*protocol.PageSize)
			// The bootloader rewrites the reset vector itself
			skip := 0
			if autoPage && addr == 0 {
				skip = 2
			}
			if err := c.verifyPage(ctx, status, addr, pages[i], skip); err != nil {
				return err
			}
		}
	}

	c.reportProgress(Progress{
		Addr:         c.dev.Addr,
		Phase:        PhaseComplete,
		CurrentPage:  len(pages),
		TotalPages:   len(pages),
		Percentage:   100,
		BytesWritten: bytesWritten,
		ElapsedTime:  time.Since(startTime),
	})

	c.logInfo("upload complete",
		"addr", hexAddr(c.dev.Addr),
		"pages", len(written),
		"bytes", bytesWritten,
		"elapsed", time.Since(startTime).String(),
	)

	return nil
}

// BuildImage lays out the flash image for a payload uploaded at start.
// The application area ends one page below the bootloader; that page holds
// the trampoline. For bootloaders without AUTO_PAGE_ADDR an upload at zero
// gets its reset vector pointed at the bootloader and the trampoline
// appended, so the returned image then extends to the bootloader start.
func BuildImage(status *protocol.Status, p *payload.Payload, start uint16) ([]byte, error) {
	if start%protocol.PageSize != 0 {
		return nil, fmt.Errorf("start address 0x%04X is not aligned to %d bytes", start, protocol.PageSize)
	}
	if status.BootloaderStart < protocol.PageSize {
		return nil, fmt.Errorf("invalid bootloader start 0x%04X", status.BootloaderStart)
	}

	limit := status.BootloaderStart - protocol.PageSize
	if int(start)+p.Size() > int(limit) {
		return nil, &PayloadTooLargeError{Start: start, Size: p.Size(), Limit: limit}
	}

	image := p.Padded(protocol.PageSize)
	if start != 0 || status.Has(protocol.FeatureAutoPageAddr) {
		return image, nil
	}

	target, err := p.ResetTarget()
	if err != nil {
		return nil, err
	}

	full := bytes.Repeat([]byte{protocol.ErasedByte}, int(status.BootloaderStart))
	copy(full, image)

	putWord(full, 0, protocol.EncodeRJMP(0, status.BootloaderStart))
	tpl := status.BootloaderStart - 2
	putWord(full, int(tpl), protocol.EncodeRJMP(tpl, target))

	return full, nil
}

// writePage sends one page as Write Page packets. On a checksum mismatch or
// bus error the page is restarted from its address when the bootloader
// accepts page addresses.
func (c *Client) writePage(ctx context.Context, status *protocol.Status, addr uint16, page []byte, setAddr bool) error {
	canRestart := status.Has(protocol.FeatureCmdSetPgAddr)

	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			if !canRestart {
				break
			}
			c.logDebug("retrying page", "addr", hexAddr(c.dev.Addr), "page", hexAddr(addr), "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, c.config.RetryDelay); err != nil {
				return err
			}
		}

		if setAddr || attempt > 0 {
			if err := c.setPageAddress(ctx, status, addr); err != nil {
				lastErr = err
				continue
			}
		}

		lastErr = c.sendPackets(ctx, page)
		if lastErr == nil {
			return sleep(ctx, c.config.PageWriteDelay)
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	c.logError("page write failed", "addr", hexAddr(c.dev.Addr), "page", hexAddr(addr), "error", lastErr)
	return lastErr
}

func (c *Client) sendPackets(ctx context.Context, page []byte) error {
	for off := 0; off < len(page); off += protocol.MasterPacketSize {
		packet := page[off : off+protocol.MasterPacketSize]

		cmd, err := protocol.BuildWritePageCmd(packet)
		if err != nil {
			return err
		}

		reply := make([]byte, protocol.WritePageReplySize)
		if err := c.tx(ctx, c.dev, cmd, reply, false); err != nil {
			return err
		}
		if err := protocol.ParseWritePageReply(packet, reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) verifyPage(ctx context.Context, status *protocol.Status, addr uint16, page []byte, skip int) error {
	got, err := c.readFlash(ctx, status, addr, len(page))
	if err != nil {
		return fmt.Errorf("verify page 0x%04X: %w", addr, err)
	}

	for i := skip; i < len(page); i++ {
		if got[i] != page[i] {
			return &VerifyError{Addr: addr + uint16(i), Expected: page[i], Actual: got[i]}
		}
	}
	return nil
}

// command sends a single-byte command and reads its reply.
func (c *Client) command(ctx context.Context, code byte, retry bool) ([]byte, error) {
	cmd, err := protocol.BuildSimpleCmd(code)
	if err != nil {
		return nil, err
	}

	size, err := protocol.ReplySize(cmd)
	if err != nil {
		return nil, err
	}

	reply := make([]byte, size)
	if err := c.tx(ctx, c.dev, cmd, reply, retry); err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.CommandName(code), err)
	}
	return reply, nil
}

// tx runs one bus transaction. Idempotent commands are retried on bus errors.
func (c *Client) tx(ctx context.Context, dev *twi.Device, w, r []byte, retry bool) error {
	attempts := 1
	if retry {
		attempts += c.config.Retries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("cancelled: %w", ctxErr)
		}
		if attempt > 0 {
			c.logDebug("retrying transaction", "addr", hexAddr(dev.Addr), "attempt", attempt, "error", err)
			if sleepErr := sleep(ctx, c.config.RetryDelay); sleepErr != nil {
				return sleepErr
			}
		}

		if err = dev.Tx(w, r); err == nil {
			return nil
		}
	}
	return err
}

// reportProgress calls the progress callback if configured.
func (c *Client) reportProgress(progress Progress) {
	if c.config.ProgressCallback != nil {
		c.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (c *Client) logDebug(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (c *Client) logInfo(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (c *Client) logError(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, keysAndValues...)
	}
}

func splitPages(image []byte) [][]byte {
	pages := make([][]byte, 0, len(image)/protocol.PageSize)
	for off := 0; off < len(image); off += protocol.PageSize {
		pages = append(pages, image[off:off+protocol.PageSize])
	}
	return pages
}

func isErased(page []byte) bool {
	for _, b := range page {
		if b != protocol.ErasedByte {
			return false
		}
	}
	return true
}

// putWord stores an instruction word little-endian, as AVR flash does.
func putWord(b []byte, off int, w uint16) {
	b[off] = byte(w)
	b[off+1] = byte(w >> 8)
}

func hexAddr(a uint16) string {
	return fmt.Sprintf("0x%02X", a)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// IsFeatureError returns true if err is or wraps a FeatureError.
func IsFeatureError(err error) bool {
	var fe *FeatureError
	return errors.As(err, &fe)
}
