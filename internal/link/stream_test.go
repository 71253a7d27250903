package link

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPipeLink(t *testing.T) (*StreamLink, net.Conn) {
	device, gateway := net.Pipe()
	l := NewStreamLink(gateway, zap.NewNop())
	t.Cleanup(func() {
		l.Close()
		device.Close()
	})
	return l, device
}

// receiveEventually 轮询直到拿到一行
func receiveEventually(t *testing.T, l Link) string {
	t.Helper()
	var got string
	require.Eventually(t, func() bool {
		line, ok, err := l.ReceiveLine()
		assert.NoError(t, err)
		got = line
		return ok
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestStreamLink_ReceiveLines(t *testing.T) {
	l, device := newPipeLink(t)

	go device.Write([]byte("{\"temp\":21.5}\r\n\n{\"temp\":22}\n"))

	assert.Equal(t, `{"temp":21.5}`, receiveEventually(t, l))
	assert.Equal(t, `{"temp":22}`, receiveEventually(t, l))

	line, ok, err := l.ReceiveLine()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)
}

func TestStreamLink_DiscardsOverlongLine(t *testing.T) {
	l, device := newPipeLink(t)

	go device.Write([]byte(strings.Repeat("x", maxLineLength+500) + "\n{\"ok\":1}\n"))

	assert.Equal(t, `{"ok":1}`, receiveEventually(t, l))
}

func TestStreamLink_PeerClosedKeepsReporting(t *testing.T) {
	l, device := newPipeLink(t)
	device.Close()

	var readErr error
	require.Eventually(t, func() bool {
		_, _, readErr = l.ReceiveLine()
		return readErr != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, readErr, ErrLinkClosed)

	// 之后的 tick 仍然能看到链路已断开
	for i := 0; i < 3; i++ {
		_, ok, err := l.ReceiveLine()
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrLinkClosed)
	}
}

// flakyPort 前 fails 次读取失败，然后交付 data，最后阻塞到关闭
type flakyPort struct {
	mu    sync.Mutex
	fails int
	data  *strings.Reader
	done  chan struct{}
	once  sync.Once
}

func newFlakyPort(fails int, data string) *flakyPort {
	return &flakyPort{fails: fails, data: strings.NewReader(data), done: make(chan struct{})}
}

func (p *flakyPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.fails > 0 {
		p.fails--
		p.mu.Unlock()
		return 0, errors.New("read /dev/ttyACM0: input/output error")
	}
	p.mu.Unlock()
	if p.data.Len() > 0 {
		return p.data.Read(b)
	}
	<-p.done
	return 0, os.ErrClosed
}

func (p *flakyPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *flakyPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func TestStreamLink_RecoversAfterTransientReadError(t *testing.T) {
	l := NewStreamLink(newFlakyPort(1, "{\"temp\":21}\n"), zap.NewNop())
	defer l.Close()

	var (
		errs  []error
		lines []string
	)
	require.Eventually(t, func() bool {
		line, ok, err := l.ReceiveLine()
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			lines = append(lines, line)
		}
		return len(lines) > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{`{"temp":21}`}, lines)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "input/output error")
	assert.NotErrorIs(t, errs[0], ErrLinkClosed)

	// 恢复后没有残留错误
	_, ok, err := l.ReceiveLine()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStreamLink_RepeatedReadErrorsKeepReading(t *testing.T) {
	l := NewStreamLink(newFlakyPort(3, "{\"temp\":22}\n"), zap.NewNop())
	defer l.Close()

	sawErr := false
	require.Eventually(t, func() bool {
		_, ok, err := l.ReceiveLine()
		if err != nil {
			sawErr = true
		}
		return ok
	}, 3*time.Second, 5*time.Millisecond)
	assert.True(t, sawErr)
}

func TestStreamLink_CloseDuringBackoff(t *testing.T) {
	port := newFlakyPort(100, "")
	l := NewStreamLink(port, zap.NewNop())

	require.Eventually(t, func() bool {
		_, _, err := l.ReceiveLine()
		return err != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	_, _, err := l.ReceiveLine()
	assert.NoError(t, err)
	assert.ErrorIs(t, l.SendLine("{}"), ErrLinkClosed)
}

func TestStreamLink_SendLine(t *testing.T) {
	l, device := newPipeLink(t)

	received := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(device).ReadString('\n')
		received <- line
	}()

	require.NoError(t, l.SendLine(`{"mode":"AUTO","win":"Open","heat":"OFF","cool":"OFF"}`))

	select {
	case line := <-received:
		assert.Equal(t, "{\"mode\":\"AUTO\",\"win\":\"Open\",\"heat\":\"OFF\",\"cool\":\"OFF\"}\n", line)
	case <-time.After(time.Second):
		t.Fatal("frame not received")
	}
}

func TestStreamLink_Close(t *testing.T) {
	l, _ := newPipeLink(t)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	assert.ErrorIs(t, l.SendLine("{}"), ErrLinkClosed)

	// 主动关闭不算读取错误
	time.Sleep(20 * time.Millisecond)
	_, _, err := l.ReceiveLine()
	assert.NoError(t, err)
}
