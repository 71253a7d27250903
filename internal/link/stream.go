package link

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// 超过该长度的行直接丢弃
	maxLineLength = 4096
	// 入站缓冲，满了丢弃新行
	inboundBuffer = 256

	// 可恢复读取错误后的重试间隔
	retryBackoffMin = 50 * time.Millisecond
	retryBackoffMax = time.Second
)

// StreamLink 基于字节流（串口、TCP）的链路
// 读取在独立 goroutine 中完成，ReceiveLine 只从缓冲中取
// 可恢复的读取错误上报后退避重读；对端关闭后停止读取
type StreamLink struct {
	rwc    io.ReadWriteCloser
	logger *zap.Logger

	lines chan string
	errs  chan error

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	dead    atomic.Pointer[error]
}

// NewStreamLink 包装字节流并启动读取
func NewStreamLink(rwc io.ReadWriteCloser, logger *zap.Logger) *StreamLink {
	l := &StreamLink{
		rwc:    rwc,
		logger: logger,
		lines:  make(chan string, inboundBuffer),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *StreamLink) readLoop() {
	reader := bufio.NewReaderSize(l.rwc, maxLineLength)
	backoff := retryBackoffMin
	for {
		raw, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = reader.ReadSlice('\n')
			}
			l.logger.Debug("Discarded overlong line")
			if err == nil {
				continue
			}
		}
		if err != nil {
			// 出错时残留的半行直接丢弃
			if l.isClosed() {
				return
			}
			if isTerminal(err) {
				l.terminate(err)
				return
			}
			l.report(fmt.Errorf("link read failed: %w", err))
			if !l.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, retryBackoffMax)
			continue
		}
		backoff = retryBackoffMin

		line := strings.TrimRight(string(raw), "\r\n")
		if line == "" {
			continue
		}

		select {
		case l.lines <- line:
		default:
			if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
				l.logger.Warn("Inbound buffer full, dropping lines", zap.Uint64("dropped", n))
			}
		}
	}
}

// isTerminal 对端关闭或句柄已关闭，之后不可能再读到数据
func isTerminal(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}

// report 上报一次可恢复的读取错误；上一个还没被取走时丢弃
func (l *StreamLink) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// terminate 链路已断开，之后每次 ReceiveLine 都返回该错误
func (l *StreamLink) terminate(err error) {
	if errors.Is(err, io.EOF) {
		err = ErrLinkClosed
	}
	wrapped := fmt.Errorf("link read failed: %w", err)
	l.dead.Store(&wrapped)
}

func (l *StreamLink) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.closed:
		return false
	case <-t.C:
		return true
	}
}

func (l *StreamLink) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// ReceiveLine 取出一行缓冲的数据
// 缓冲中的行先于错误返回；链路断开后持续返回断开错误
func (l *StreamLink) ReceiveLine() (string, bool, error) {
	select {
	case line := <-l.lines:
		return line, true, nil
	default:
	}

	if l.isClosed() {
		return "", false, nil
	}

	select {
	case err := <-l.errs:
		return "", false, err
	default:
	}

	if dead := l.dead.Load(); dead != nil {
		return "", false, *dead
	}
	return "", false, nil
}

// SendLine 写一帧
func (l *StreamLink) SendLine(line string) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := io.WriteString(l.rwc, line+"\n"); err != nil {
		return fmt.Errorf("link write failed: %w", err)
	}
	return nil
}

// Close 关闭链路（可重复调用）
func (l *StreamLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.rwc.Close()
	})
	return err
}

// Dropped 因缓冲已满而丢弃的行数
func (l *StreamLink) Dropped() uint64 {
	return l.dropped.Load()
}
