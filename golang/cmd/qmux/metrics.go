package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/manifold/qmux/golang/mux"
)

// sessionCollector exports the traffic counters of served sessions.
// Counters of ended sessions are kept so totals never go down.
type sessionCollector struct {
	mu       sync.Mutex
	sessions map[*mux.Session]struct{}
	ended    mux.Stats

	framesIn, framesOut         *prometheus.Desc
	bytesIn, bytesOut           *prometheus.Desc
	opened, accepted, rejected  *prometheus.Desc
	activeSessions, activeChans *prometheus.Desc
}

func newSessionCollector() *sessionCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("qmux_"+name, help, nil, nil)
	}
	return &sessionCollector{
		sessions:       make(map[*mux.Session]struct{}),
		framesIn:       desc("frames_received_total", "Frames decoded from peers."),
		framesOut:      desc("frames_sent_total", "Frames written to peers."),
		bytesIn:        desc("data_received_bytes_total", "Channel payload received."),
		bytesOut:       desc("data_sent_bytes_total", "Channel payload sent."),
		opened:         desc("channels_opened_total", "Channels opened locally and confirmed."),
		accepted:       desc("channels_accepted_total", "Channels opened by peers and confirmed."),
		rejected:       desc("channels_rejected_total", "Channel opens refused."),
		activeSessions: desc("sessions", "Sessions being served."),
		activeChans:    desc("channels", "Channels holding a slot."),
	}
}

// add tracks sess until it ends.
func (c *sessionCollector) add(sess *mux.Session) {
	c.mu.Lock()
	c.sessions[sess] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-sess.Done()
		st := sess.Stats()
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.sessions, sess)
		c.ended = sumStats(c.ended, st)
	}()
}

func sumStats(a, b mux.Stats) mux.Stats {
	return mux.Stats{
		FramesIn:         a.FramesIn + b.FramesIn,
		FramesOut:        a.FramesOut + b.FramesOut,
		BytesIn:          a.BytesIn + b.BytesIn,
		BytesOut:         a.BytesOut + b.BytesOut,
		ChannelsOpened:   a.ChannelsOpened + b.ChannelsOpened,
		ChannelsAccepted: a.ChannelsAccepted + b.ChannelsAccepted,
		ChannelsRejected: a.ChannelsRejected + b.ChannelsRejected,
		ChannelsActive:   a.ChannelsActive + b.ChannelsActive,
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.framesIn, c.framesOut, c.bytesIn, c.bytesOut,
		c.opened, c.accepted, c.rejected, c.activeSessions, c.activeChans,
	} {
		ch <- d
	}
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	total := c.ended
	total.ChannelsActive = 0
	for sess := range c.sessions {
		total = sumStats(total, sess.Stats())
	}
	active := len(c.sessions)
	c.mu.Unlock()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.framesIn, total.FramesIn)
	counter(c.framesOut, total.FramesOut)
	counter(c.bytesIn, total.BytesIn)
	counter(c.bytesOut, total.BytesOut)
	counter(c.opened, total.ChannelsOpened)
	counter(c.accepted, total.ChannelsAccepted)
	counter(c.rejected, total.ChannelsRejected)
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(active))
	ch <- prometheus.MustNewConstMetric(c.activeChans, prometheus.GaugeValue, float64(total.ChannelsActive))
}

var _ prometheus.Collector = (*sessionCollector)(nil)
