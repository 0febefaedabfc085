package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelterrain.ai/internal/protocol"
	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/stream"
	"voxelterrain.ai/internal/terrain/volume"
)

// Controller receives viewer moves and edits from renderer sessions.
// *stream.Manager satisfies it.
type Controller interface {
	RequestViewer(pos mgl64.Vec3)
	RequestEdit(e gen.Edit) error
}

type Options struct {
	// EditsPerSecond and EditBurst bound each session's EDIT rate.
	// A zero rate disables the limit.
	EditsPerSecond float64
	EditBurst      int
	// SendBuffer is the per-session outbound queue length. A session
	// that falls this far behind is disconnected.
	SendBuffer int
}

// Server publishes chunk meshes to renderer sessions over WebSocket and
// forwards their viewer moves and edits to a Controller. It implements
// stream.Renderer. Meshes are encoded once and cached so late joiners
// receive the current surface.
type Server struct {
	ctl    Controller
	params protocol.WorldParams
	opts   Options
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	meshes   map[volume.ChunkKey][]byte
	sessions map[string]*session
}

type session struct {
	id       string
	out      chan []byte
	cancel   context.CancelFunc
	readOnly bool
	overflow atomic.Bool
}

func NewServer(ctl Controller, params protocol.WorldParams, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 1024
	}
	if opts.EditBurst <= 0 {
		opts.EditBurst = 1
	}
	return &Server{
		ctl:    ctl,
		params: params,
		opts:   opts,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024,
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin:       func(r *http.Request) bool { return true }, // dev default
		},
		meshes:   map[volume.ChunkKey][]byte{},
		sessions: map[string]*session{},
	}
}

var _ stream.Renderer = (*Server)(nil)

// SetController wires the receiver of viewer moves and edits. It must be
// called before Handler serves any session.
func (s *Server) SetController(ctl Controller) { s.ctl = ctl }

// PublishMesh replaces the cached mesh for key and broadcasts it.
func (s *Server) PublishMesh(key volume.ChunkKey, m *volume.Mesh) {
	b, err := json.Marshal(EncodeMesh(key, m))
	if err != nil {
		s.log.Printf("chunk %v: encode mesh: %v", key, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meshes[key] = b
	for _, sess := range s.sessions {
		s.send(sess, b)
	}
}

// RetractMesh drops the cached mesh for key and tells every session.
func (s *Server) RetractMesh(key volume.ChunkKey) {
	b, _ := json.Marshal(protocol.RetractMsg{
		Type:            protocol.TypeRetract,
		ProtocolVersion: protocol.Version,
		Chunk:           key.Array(),
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meshes, key)
	for _, sess := range s.sessions {
		s.send(sess, b)
	}
}

// Sessions reports the number of connected renderer sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CachedMeshes reports how many chunk meshes late joiners would receive.
func (s *Server) CachedMeshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meshes)
}

// Close disconnects every session.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.cancel()
	}
}

// send must be called with s.mu held (or before the session is shared).
func (s *Server) send(sess *session, b []byte) {
	select {
	case sess.out <- b:
	default:
		// Sessions never skip a MESH or RETRACT; a full buffer disconnects.
		if sess.overflow.CompareAndSwap(false, true) {
			s.log.Printf("session %s: send buffer full, disconnecting", sess.id)
			sess.cancel()
		}
	}
}

func (s *Server) sendLocked(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.send(sess, b)
	s.mu.Unlock()
}

// register adds sess and returns the cached meshes in key order. Holding
// the lock across both keeps the backlog and later broadcasts in order.
func (s *Server) register(sess *session) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]volume.ChunkKey, 0, len(s.meshes))
	for k := range s.meshes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	backlog := make([][]byte, 0, len(keys))
	for _, k := range keys {
		backlog = append(backlog, s.meshes[k])
	}
	s.sessions[sess.id] = sess
	return backlog
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.EnableWriteCompression(true)

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sess := &session{
			id:       fmt.Sprintf("R%d", s.nextID.Add(1)),
			out:      make(chan []byte, s.opts.SendBuffer),
			cancel:   cancel,
			readOnly: hello.ReadOnly,
		}
		backlog := s.register(sess)
		defer s.unregister(sess.id)

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sess.id,
			WorldParams:     s.params,
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		for _, b := range backlog {
			if err := writeRaw(conn, b); err != nil {
				return
			}
		}
		s.log.Printf("session %s (%s): joined, %d meshes sent", sess.id, hello.ClientName, len(backlog))

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					reason, code := "bye", websocket.CloseNormalClosure
					if sess.overflow.Load() {
						reason, code = "send buffer full", websocket.CloseTryAgainLater
					}
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case b := <-sess.out:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		var limiter *rate.Limiter
		if s.opts.EditsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.opts.EditsPerSecond), s.opts.EditBurst)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(sess, limiter, msg)
		}
		cancel()
		<-writeDone
		s.log.Printf("session %s: left", sess.id)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return hello, false
	}
	if !protocol.Compatible(hello.ProtocolVersion) {
		reject(conn, protocol.ErrProtoVersion, fmt.Sprintf("unsupported protocol_version %q, server speaks %s", hello.ProtocolVersion, protocol.Version))
		return hello, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "renderer"
	}
	return hello, true
}

func (s *Server) handleMessage(sess *session, limiter *rate.Limiter, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendLocked(sess, errorMsg(protocol.ErrProtoBadRequest, "bad json"))
		return
	}
	switch base.Type {
	case protocol.TypeViewer:
		if sess.readOnly {
			return
		}
		var v protocol.ViewerMsg
		if err := json.Unmarshal(msg, &v); err != nil || !finite3(v.Pos) {
			s.sendLocked(sess, errorMsg(protocol.ErrBadRequest, "bad VIEWER"))
			return
		}
		s.ctl.RequestViewer(mgl64.Vec3(v.Pos))

	case protocol.TypeEdit:
		var e protocol.EditMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			s.sendLocked(sess, errorMsg(protocol.ErrBadRequest, "bad EDIT"))
			return
		}
		s.sendLocked(sess, s.edit(sess, limiter, e))

	default:
		s.sendLocked(sess, errorMsg(protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type)))
	}
}

func (s *Server) edit(sess *session, limiter *rate.Limiter, e protocol.EditMsg) protocol.AckMsg {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          e.EditID,
	}
	if sess.readOnly {
		ack.Code, ack.Message = protocol.ErrBadRequest, "read-only session"
		return ack
	}
	if limiter != nil && !limiter.Allow() {
		ack.Code, ack.Message = protocol.ErrRateLimit, "edit rate exceeded"
		return ack
	}
	mat := volume.MaterialNone
	if e.Material != "" {
		m, err := volume.ParseMaterial(e.Material)
		if err != nil {
			ack.Code, ack.Message = protocol.ErrBadRequest, err.Error()
			return ack
		}
		mat = m
	}
	err := s.ctl.RequestEdit(gen.Edit{
		Center:   mgl64.Vec3(e.Pos),
		Radius:   e.Radius,
		Delta:    e.Delta,
		Material: mat,
	})
	switch {
	case err == nil:
		ack.Accepted = true
	case errors.Is(err, stream.ErrEditBacklogFull):
		ack.Code, ack.Message = protocol.ErrBusy, err.Error()
	case errors.Is(err, gen.ErrOutOfBounds):
		ack.Code, ack.Message = protocol.ErrOutOfBounds, err.Error()
	default:
		ack.Code, ack.Message = protocol.ErrBadRequest, err.Error()
	}
	return ack
}

// EncodeMesh flattens a mesh into its wire form.
func EncodeMesh(key volume.ChunkKey, m *volume.Mesh) protocol.MeshMsg {
	out := protocol.MeshMsg{
		Type:            protocol.TypeMesh,
		ProtocolVersion: protocol.Version,
		Chunk:           key.Array(),
		Positions:       []float32{},
		Normals:         []float32{},
		Materials:       []uint16{},
		Indices:         []uint32{},
		Sections:        []protocol.SectionRef{},
	}
	if m == nil {
		return out
	}
	out.Version = m.Version
	out.Positions = make([]float32, 0, len(m.Vertices)*3)
	out.Normals = make([]float32, 0, len(m.Vertices)*3)
	out.Materials = make([]uint16, 0, len(m.Vertices))
	for _, v := range m.Vertices {
		out.Positions = append(out.Positions, v.Position[0], v.Position[1], v.Position[2])
		out.Normals = append(out.Normals, v.Normal[0], v.Normal[1], v.Normal[2])
		out.Materials = append(out.Materials, uint16(v.Material))
	}
	out.Indices = make([]uint32, 0, len(m.Triangles)*3)
	for _, t := range m.Triangles {
		out.Indices = append(out.Indices, t[0], t[1], t[2])
	}
	for _, sec := range m.Sections {
		out.Sections = append(out.Sections, protocol.SectionRef{
			Material:      sec.Material.String(),
			FirstTriangle: sec.FirstTriangle,
			TriangleCount: sec.TriangleCount,
		})
	}
	return out
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, errorMsg(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func finite3(v [3]float64) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
