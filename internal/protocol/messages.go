package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// ReadOnly sessions receive meshes but may not steer the viewer or edit.
	ReadOnly bool `json:"read_only,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	WorldID      string   `json:"world_id"`
	Seed         int64    `json:"seed"`
	ChunkSize    int      `json:"chunk_size"`
	VoxelSize    float64  `json:"voxel_size"`
	ActiveRadius float64  `json:"active_radius"`
	MeshMethod   string   `json:"mesh_method"`
	TickRateHz   int      `json:"tick_rate_hz"`
	BoundsMin    [3]int   `json:"bounds_min"`
	BoundsMax    [3]int   `json:"bounds_max"`
	Materials    []string `json:"materials"`
}

// VIEWER (client -> server): the camera position in world units.
type ViewerMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// EDIT (client -> server): a spherical density brush.
type EditMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	EditID          string     `json:"edit_id,omitempty"`
	Pos             [3]float64 `json:"pos"`
	Radius          float64    `json:"radius"`
	Delta           float64    `json:"delta"`
	Material        string     `json:"material,omitempty"`
}

// ACK (server -> client): whether an EDIT was queued.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// MESH (server -> client): the full surface of one chunk. Positions and
// normals are flattened xyz triples; Indices holds three entries per
// triangle, counter-clockwise seen from outside.
type MeshMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Chunk           [3]int       `json:"chunk"`
	Version         uint64       `json:"version"`
	Positions       []float32    `json:"positions"`
	Normals         []float32    `json:"normals"`
	Materials       []uint16     `json:"materials"`
	Indices         []uint32     `json:"indices"`
	Sections        []SectionRef `json:"sections"`
}

type SectionRef struct {
	Material      string `json:"material"`
	FirstTriangle int    `json:"first_triangle"`
	TriangleCount int    `json:"triangle_count"`
}

// RETRACT (server -> client): the chunk no longer has a displayed surface.
type RetractMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Chunk           [3]int `json:"chunk"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
