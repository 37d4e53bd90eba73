package rpc_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"strings"

	"github.com/manifold/qmux/golang/mux/transport"
	"github.com/manifold/qmux/golang/rpc"
)

func Example() {
	// define api
	api := rpc.NewRespondMux(rpc.JSONCodec{})
	api.Bind("echo", rpc.HandlerFunc(func(r rpc.Responder, c *rpc.Call) {
		var msg string
		if err := c.Decode(&msg); err != nil {
			r.Return(err)
			return
		}
		r.Return(msg)
	}))

	// start server with api
	l, err := transport.ListenTCP("127.0.0.1:0", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()
	server := &rpc.Server{Mux: api}
	go server.Serve(l)

	// connect client to server, call echo
	sess, err := transport.DialTCP(context.Background(), l.Addr().String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()
	client := rpc.NewCaller(sess, rpc.JSONCodec{})

	var resp string
	if _, err := client.Call(context.Background(), "echo", "Hello world", &resp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("resp: %#v\n", resp)
	// Output: resp: "Hello world"
}

func ExampleResponder_Hijack() {
	a, b := transport.Pipe(nil)
	defer a.Close()

	server := rpc.NewPeer(b, rpc.JSONCodec{})
	server.Bind("echo", rpc.HandlerFunc(func(r rpc.Responder, c *rpc.Call) {
		var msg string
		if err := c.Decode(&msg); err != nil {
			r.Return(err)
			return
		}
		ch, err := r.Hijack("Something else")
		if err != nil {
			return
		}
		io.WriteString(ch, strings.ToUpper(msg))
		ch.CloseWrite()
		ch.Close()
	}))
	go server.Respond()

	client := rpc.NewCaller(a, rpc.JSONCodec{})
	resp, err := client.Call(context.Background(), "echo", "Hello world", nil)
	if err != nil {
		log.Fatal(err)
	}
	if resp.Hijacked {
		reply, err := io.ReadAll(resp.Channel)
		if err != nil {
			log.Fatal(err)
		}
		resp.Channel.Close()
		fmt.Printf("resp: %#v\n", string(reply))
	}
	// Output: resp: "HELLO WORLD"
}

func ExampleBind() {
	rpc.Bind("upper", func(str string) string {
		return strings.ToUpper(str)
	})
	rpc.Bind("add", func(a, b int) int {
		return a + b
	})

	srv := httptest.NewServer(rpc.DefaultRespondMux)
	defer srv.Close()

	sess, err := transport.DialWS(context.Background(), srv.Listener.Addr().String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()
	caller := rpc.NewCaller(sess, rpc.JSONCodec{})

	var sum int
	if _, err := caller.Call(context.Background(), "add", []int{4, 5}, &sum); err != nil {
		log.Fatal(err)
	}
	var upper string
	if _, err := caller.Call(context.Background(), "upper", "qmux", &upper); err != nil {
		log.Fatal(err)
	}
	fmt.Println(sum, upper)
	// Output: 9 QMUX
}
