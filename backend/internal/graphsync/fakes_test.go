package graphsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"graphmirror/backend/internal/constants"
	"graphmirror/backend/internal/graph"
	"graphmirror/backend/internal/signal"
)

type reply struct {
	channelID string
	text      string
}

type fakePlatform struct {
	mu       sync.Mutex
	members  map[string][]string
	failing  map[string]bool
	lookups  []string
	replies  []reply
	replyErr error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		members: make(map[string][]string),
		failing: make(map[string]bool),
	}
}

func (p *fakePlatform) FetchChannelMembers(_ context.Context, channelID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, channelID)
	if p.failing[channelID] {
		return nil, errors.New("missing access")
	}
	return p.members[channelID], nil
}

func (p *fakePlatform) Reply(_ context.Context, channelID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replyErr != nil {
		return p.replyErr
	}
	p.replies = append(p.replies, reply{channelID: channelID, text: text})
	return nil
}

func (p *fakePlatform) lastReply() reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return reply{}
	}
	return p.replies[len(p.replies)-1]
}

// fakeRemote assigns sequential ids the way a graph backend acknowledges
// created nodes and edges
type fakeRemote struct {
	mu        sync.Mutex
	seq       int
	graphID   string
	download  *graph.GraphData
	jobs      [][]signal.Signal
	nodeIDs   map[string]string // type/name -> id
	sendErr   error
	mentions  map[string][]string
	mentioned map[string][]string

	// numericIDs echoes user_id and channel_id back as JSON numbers
	numericIDs bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		graphID:   "g-1",
		nodeIDs:   make(map[string]string),
		mentions:  make(map[string][]string),
		mentioned: make(map[string][]string),
	}
}

func (r *fakeRemote) Backend() string { return "fake" }

func (r *fakeRemote) CreateGraph(context.Context) (string, error) {
	return r.graphID, nil
}

func (r *fakeRemote) DownloadGraph(_ context.Context, graphID string) (*graph.GraphData, error) {
	if r.download == nil {
		return nil, &graph.ErrGraphNotFound{GraphID: graphID}
	}
	return r.download, nil
}

func (r *fakeRemote) SendSignals(_ context.Context, _ string, signals []signal.Signal) (*graph.SignalsResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sendErr != nil {
		return nil, r.sendErr
	}
	r.jobs = append(r.jobs, signals)

	acked := make([]signal.Signal, len(signals))
	for i, s := range signals {
		switch s.Action {
		case signal.ActionNodeCreate:
			r.seq++
			s.ID = fmt.Sprintf("n-%d", r.seq)
			r.nodeIDs[s.Type+"/"+s.Name] = s.ID
			if r.numericIDs {
				s.Properties = numericProperties(s.Properties)
			}
		case signal.ActionEdgeCreate:
			r.seq++
			s.ID = fmt.Sprintf("e-%d", r.seq)
			s.From = r.nodeIDs[s.FromType+"/"+s.FromName]
			s.To = r.nodeIDs[s.ToType+"/"+s.ToName]
		}
		acked[i] = s
	}
	return &graph.SignalsResponse{Signals: acked}, nil
}

func numericProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
		if str, ok := v.(string); ok && (k == constants.PropUserID || k == constants.PropChannelID) {
			if n, err := strconv.ParseFloat(str, 64); err == nil {
				out[k] = n
			}
		}
	}
	return out
}

func (r *fakeRemote) Mentioners(_ context.Context, _ string, userRemoteID string) ([]string, error) {
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	return r.mentions[userRemoteID], nil
}

func (r *fakeRemote) Mentioned(_ context.Context, _ string, userRemoteID string) ([]string, error) {
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	return r.mentioned[userRemoteID], nil
}

func (r *fakeRemote) GraphURL(graphID string) string {
	if graphID == "" {
		return ""
	}
	return "https://graphs.example/" + graphID
}

func (r *fakeRemote) sentJobs() [][]signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]signal.Signal(nil), r.jobs...)
}

func (r *fakeRemote) lastJob() []signal.Signal {
	jobs := r.sentJobs()
	if len(jobs) == 0 {
		return nil
	}
	return jobs[len(jobs)-1]
}

func (r *fakeRemote) nodeID(nodeType, name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodeIDs[nodeType+"/"+name]
}

type summary struct {
	Action signal.Action
	Kind   string
	Name   string
}

// summarize reduces signals to action, node type or edge name, and the
// node name or "from->to"
func summarize(signals []signal.Signal) []summary {
	out := make([]summary, len(signals))
	for i, s := range signals {
		switch s.Action {
		case signal.ActionEdgeCreate:
			out[i] = summary{s.Action, s.Name, s.FromName + "->" + s.ToName}
		case signal.ActionEdgeDelete:
			out[i] = summary{s.Action, s.Name, s.From + "->" + s.To}
		default:
			out[i] = summary{s.Action, s.Type, s.Name}
		}
	}
	return out
}
