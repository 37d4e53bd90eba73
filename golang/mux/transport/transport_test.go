package transport

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/manifold/qmux/golang/mux"
)

// echo serves every channel of sess by copying it back until EOF.
func echo(sess *mux.Session) {
	for {
		ch, err := sess.Accept(context.Background())
		if err != nil {
			return
		}
		go func() {
			io.Copy(ch, ch)
			ch.CloseWrite()
		}()
	}
}

func roundTrip(t *testing.T, sess *mux.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := sess.Open(ctx)
	require.NoError(t, err)
	_, err = ch.Write([]byte("Hello world"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWrite())

	b, err := io.ReadAll(ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(b))
	require.NoError(t, ch.Close())
}

func serveListener(l mux.Listener) {
	go func() {
		for {
			sess, err := l.Accept()
			if err != nil {
				return
			}
			go echo(sess)
		}
	}()
}

func TestTCP(t *testing.T) {
	l, err := ListenTCP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()
	serveListener(l)

	sess, err := DialTCP(context.Background(), l.Addr().String(), nil)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, l.Addr().String(), sess.RemoteAddr().String())

	roundTrip(t, sess)
}

func TestUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qmux.sock")
	l, err := ListenUnix(path, nil)
	require.NoError(t, err)
	defer l.Close()
	serveListener(l)

	sess, err := DialUnix(context.Background(), path, nil)
	require.NoError(t, err)
	defer sess.Close()

	roundTrip(t, sess)
}

func TestWS(t *testing.T) {
	l, err := ListenWS("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()
	serveListener(l)

	sess, err := DialWS(context.Background(), l.Addr().String(), nil)
	require.NoError(t, err)
	defer sess.Close()

	roundTrip(t, sess)
}

func TestWebsocket(t *testing.T) {
	srv := httptest.NewServer(UpgradeHandler(nil, echo))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sess, err := DialWebsocket(context.Background(), url, nil)
	require.NoError(t, err)

	roundTrip(t, sess)

	// several writes are read back across message boundaries
	ch, err := sess.Open(context.Background())
	require.NoError(t, err)
	var g errgroup.Group
	g.Go(func() error {
		for _, part := range []string{"a", "bc", "def"} {
			if _, err := ch.Write([]byte(part)); err != nil {
				return err
			}
		}
		return ch.CloseWrite()
	})
	b, err := io.ReadAll(ch)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Equal(t, "abcdef", string(b))

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Wait())
}

func TestPipe(t *testing.T) {
	a, b := Pipe(nil)
	defer a.Close()
	go echo(b)

	roundTrip(t, a)

	require.NoError(t, a.Close())
	assert.NoError(t, b.Wait())
}

func TestListenerClose(t *testing.T) {
	tcp, err := ListenTCP("127.0.0.1:0", nil)
	require.NoError(t, err)
	ws, err := ListenWS("127.0.0.1:0", nil)
	require.NoError(t, err)

	errc := make(chan error, 2)
	for _, l := range []mux.Listener{tcp, ws} {
		l := l
		go func() {
			_, err := l.Accept()
			errc <- err
		}()
	}

	require.NoError(t, CloseAll(tcp, ws))
	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, io.EOF)
		case <-time.After(5 * time.Second):
			t.Fatal("Accept not released by Close")
		}
	}

	_, err = tcp.Accept()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, tcp.Close())
}
