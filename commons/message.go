package commons

// Kind tags the first field of every wire line.
type Kind string

const (
	JoinKind  Kind = "JOIN"  // participant announces its username
	LeftKind  Kind = "LEFT"  // participant leaves the session
	ChatKind  Kind = "CHAT"  // chat line
	DrawKind  Kind = "DRAW"  // one stroke segment
	ClearKind Kind = "CLEAR" // wipe the canvas
)

// Separator delimits the envelope fields; FieldSeparator delimits DRAW's numbers.
const (
	Separator      = ":"
	FieldSeparator = ","
)

// Command is one decoded protocol message. The concrete types are Join,
// Left, Chat, Draw and Clear.
type Command interface {
	Kind() Kind
	// Origin is the username carried by the command, possibly empty.
	Origin() string
	isCommand()
}

type Join struct {
	Username string
}

type Left struct {
	Username string
}

type Chat struct {
	Username string
	Text     string
}

// Draw is a single line segment from (X1,Y1) to (X2,Y2).
type Draw struct {
	Username    string
	X1, Y1      int
	X2, Y2      int
	Red         int
	Green       int
	Blue        int
	StrokeWidth int
}

// Clear may carry the issuing username; some clients send it empty.
type Clear struct {
	Username string
}

func (Join) Kind() Kind  { return JoinKind }
func (Left) Kind() Kind  { return LeftKind }
func (Chat) Kind() Kind  { return ChatKind }
func (Draw) Kind() Kind  { return DrawKind }
func (Clear) Kind() Kind { return ClearKind }

func (c Join) Origin() string  { return c.Username }
func (c Left) Origin() string  { return c.Username }
func (c Chat) Origin() string  { return c.Username }
func (c Draw) Origin() string  { return c.Username }
func (c Clear) Origin() string { return c.Username }

func (Join) isCommand()  {}
func (Left) isCommand()  {}
func (Chat) isCommand()  {}
func (Draw) isCommand()  {}
func (Clear) isCommand() {}
