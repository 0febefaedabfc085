package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"voxelterrain.ai/internal/protocol"
	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/volume"
)

type fakeController struct {
	viewers chan mgl64.Vec3
	edits   chan gen.Edit
}

func newFakeController() *fakeController {
	return &fakeController{
		viewers: make(chan mgl64.Vec3, 16),
		edits:   make(chan gen.Edit, 16),
	}
}

func (c *fakeController) RequestViewer(pos mgl64.Vec3) { c.viewers <- pos }

func (c *fakeController) RequestEdit(e gen.Edit) error {
	if err := e.Validate(); err != nil {
		return err
	}
	c.edits <- e
	return nil
}

func triangleMesh(k volume.ChunkKey, version uint64) *volume.Mesh {
	return &volume.Mesh{
		Key:     k,
		Version: version,
		Vertices: []volume.Vertex{
			{Position: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}, Material: volume.MaterialGrass},
			{Position: mgl32.Vec3{1, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}, Material: volume.MaterialGrass},
			{Position: mgl32.Vec3{0, 0, 1}, Normal: mgl32.Vec3{0, 1, 0}, Material: volume.MaterialGrass},
		},
		Triangles: [][3]uint32{{0, 2, 1}},
		Sections:  []volume.Section{{Material: volume.MaterialGrass, FirstTriangle: 0, TriangleCount: 1}},
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeController, string) {
	t.Helper()
	ctl := newFakeController()
	s := NewServer(ctl, protocol.WorldParams{WorldID: "w1", ChunkSize: 16, VoxelSize: 1, MeshMethod: "marching_cubes"}, opts, log.New(io.Discard, "", 0))
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		hs.Close()
	})
	return s, ctl, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string, hello protocol.HelloMsg) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if hello.Type == "" {
		hello.Type = protocol.TypeHello
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base.Type, b
}

func expect(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	got, b := readMsg(t, conn)
	if got != typ {
		t.Fatalf("message type: got %s want %s (%s)", got, typ, b)
	}
	if v != nil {
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
	}
}

func TestServer_LateJoinerReceivesCachedMeshes(t *testing.T) {
	s, _, url := newTestServer(t, Options{})
	k := volume.ChunkKey{X: 1, Y: 0, Z: -1}
	s.PublishMesh(k, triangleMesh(k, 1))
	s.PublishMesh(k, triangleMesh(k, 2))

	conn := dial(t, url, protocol.HelloMsg{ProtocolVersion: protocol.Version, ClientName: "r1"})
	var welcome protocol.WelcomeMsg
	expect(t, conn, protocol.TypeWelcome, &welcome)
	if welcome.WorldParams.WorldID != "w1" || welcome.SessionID == "" {
		t.Fatalf("welcome mismatch: %+v", welcome)
	}
	var mesh protocol.MeshMsg
	expect(t, conn, protocol.TypeMesh, &mesh)
	if mesh.Chunk != [3]int{1, 0, -1} || mesh.Version != 2 {
		t.Fatalf("mesh header: chunk=%v version=%d", mesh.Chunk, mesh.Version)
	}
	if len(mesh.Positions) != 9 || len(mesh.Indices) != 3 || len(mesh.Sections) != 1 || mesh.Sections[0].Material != "grass" {
		t.Fatalf("mesh body mismatch: %+v", mesh)
	}

	s.RetractMesh(k)
	var retract protocol.RetractMsg
	expect(t, conn, protocol.TypeRetract, &retract)
	if retract.Chunk != [3]int{1, 0, -1} {
		t.Fatalf("retract chunk: got %v", retract.Chunk)
	}
	if s.CachedMeshes() != 0 {
		t.Fatalf("cached meshes after retract: got %d want 0", s.CachedMeshes())
	}
}

func TestServer_ForwardsViewerAndEdits(t *testing.T) {
	_, ctl, url := newTestServer(t, Options{EditsPerSecond: 0.001, EditBurst: 1})
	conn := dial(t, url, protocol.HelloMsg{ProtocolVersion: protocol.Version, ClientName: "r1"})
	expect(t, conn, protocol.TypeWelcome, nil)

	_ = conn.WriteJSON(protocol.ViewerMsg{Type: protocol.TypeViewer, ProtocolVersion: protocol.Version, Pos: [3]float64{4, 20, -8}})
	select {
	case p := <-ctl.viewers:
		if p != (mgl64.Vec3{4, 20, -8}) {
			t.Fatalf("viewer: got %v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("viewer not forwarded")
	}

	_ = conn.WriteJSON(protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, EditID: "E1", Pos: [3]float64{0, 8, 0}, Radius: 2, Delta: -1, Material: "dirt"})
	var ack protocol.AckMsg
	expect(t, conn, protocol.TypeAck, &ack)
	if !ack.Accepted || ack.AckFor != "E1" {
		t.Fatalf("first edit ack: %+v", ack)
	}
	e := <-ctl.edits
	if e.Material != volume.MaterialDirt || e.Radius != 2 || e.Center != (mgl64.Vec3{0, 8, 0}) {
		t.Fatalf("edit mismatch: %+v", e)
	}

	_ = conn.WriteJSON(protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, EditID: "E2", Pos: [3]float64{0, 8, 0}, Radius: 2, Delta: -1})
	expect(t, conn, protocol.TypeAck, &ack)
	if ack.Accepted || ack.Code != protocol.ErrRateLimit {
		t.Fatalf("second edit should be rate limited: %+v", ack)
	}
}

func TestServer_RejectsBadEdits(t *testing.T) {
	_, _, url := newTestServer(t, Options{})
	conn := dial(t, url, protocol.HelloMsg{ProtocolVersion: protocol.Version, ClientName: "r1"})
	expect(t, conn, protocol.TypeWelcome, nil)

	_ = conn.WriteJSON(protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, Pos: [3]float64{0, 0, 0}, Radius: 2, Delta: 1, Material: "lava"})
	var ack protocol.AckMsg
	expect(t, conn, protocol.TypeAck, &ack)
	if ack.Accepted || ack.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown material: %+v", ack)
	}

	_ = conn.WriteJSON(protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, Pos: [3]float64{0, 0, 0}, Radius: 0, Delta: 1})
	expect(t, conn, protocol.TypeAck, &ack)
	if ack.Accepted || ack.Code != protocol.ErrBadRequest {
		t.Fatalf("zero radius: %+v", ack)
	}

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"JUMP","protocol_version":"1.0"}`))
	var em protocol.ErrorMsg
	expect(t, conn, protocol.TypeError, &em)
	if em.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("unknown type: %+v", em)
	}
}

func TestServer_ReadOnlySessionCannotSteer(t *testing.T) {
	_, ctl, url := newTestServer(t, Options{})
	conn := dial(t, url, protocol.HelloMsg{ProtocolVersion: protocol.Version, ClientName: "spectator", ReadOnly: true})
	expect(t, conn, protocol.TypeWelcome, nil)

	_ = conn.WriteJSON(protocol.ViewerMsg{Type: protocol.TypeViewer, ProtocolVersion: protocol.Version, Pos: [3]float64{1, 2, 3}})
	_ = conn.WriteJSON(protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, Pos: [3]float64{0, 0, 0}, Radius: 1, Delta: 1})
	var ack protocol.AckMsg
	expect(t, conn, protocol.TypeAck, &ack)
	if ack.Accepted {
		t.Fatalf("read-only edit accepted")
	}
	select {
	case p := <-ctl.viewers:
		t.Fatalf("read-only viewer forwarded: %v", p)
	default:
	}
}

func TestServer_RejectsIncompatibleVersion(t *testing.T) {
	_, _, url := newTestServer(t, Options{})
	conn := dial(t, url, protocol.HelloMsg{ProtocolVersion: "0.9", ClientName: "old"})
	var em protocol.ErrorMsg
	expect(t, conn, protocol.TypeError, &em)
	if em.Code != protocol.ErrProtoVersion {
		t.Fatalf("code: got %s want %s", em.Code, protocol.ErrProtoVersion)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close")
	}
}

func TestServer_FullSendBufferCancelsSession(t *testing.T) {
	s := NewServer(newFakeController(), protocol.WorldParams{}, Options{SendBuffer: 1}, log.New(io.Discard, "", 0))
	cancelled := 0
	sess := &session{id: "R1", out: make(chan []byte, 1), cancel: func() { cancelled++ }}
	s.register(sess)

	for i := 0; i < 3; i++ {
		k := volume.ChunkKey{X: i}
		s.PublishMesh(k, triangleMesh(k, 1))
	}
	if cancelled != 1 {
		t.Fatalf("cancel calls: got %d want 1", cancelled)
	}
	if !sess.overflow.Load() {
		t.Fatalf("expected overflow flag")
	}
	if len(sess.out) != 1 {
		t.Fatalf("queued: got %d want 1", len(sess.out))
	}
	if s.CachedMeshes() != 3 {
		t.Fatalf("cached meshes: got %d want 3", s.CachedMeshes())
	}
}
