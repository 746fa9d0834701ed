package protocol

import "encoding/base64"

// Verb names a remote operation understood by the bootstrap interpreter.
type Verb string

const (
	VerbTest     Verb = "test"
	VerbList     Verb = "ls"
	VerbMStat    Verb = "mstat"
	VerbRead     Verb = "b64read"
	VerbWrite    Verb = "b64write"
	VerbMakeDirs Verb = "mkdirs"
	VerbRemove   Verb = "rm"
	VerbMove     Verb = "mv"
	VerbCopy     Verb = "cp"
)

// Mutating reports whether the verb changes remote state.
func (v Verb) Mutating() bool {
	switch v {
	case VerbWrite, VerbMakeDirs, VerbRemove, VerbMove, VerbCopy:
		return true
	}
	return false
}

// Command is one request variant. The ticket is not part of a Command: the
// channel assigns it when the command is sent.
type Command interface {
	Verb() Verb
	command()
}

// Test asks the interpreter to identify itself.
type Test struct{}

// List reads the entries of a directory.
type List struct {
	Path string `json:"p"`
}

// MStat stats a path and, for directories, returns its listing inline.
type MStat struct {
	Path string `json:"p"`
}

// Read returns the base64-encoded contents of a file.
type Read struct {
	Path string `json:"p"`
}

// Write replaces the contents of a file.
type Write struct {
	Path     string `json:"p"`
	Contents string `json:"contents"`
}

// MakeDirs creates a directory and any missing parents.
type MakeDirs struct {
	Path string `json:"p"`
}

// Remove deletes a file, or a directory when Recursive is set or it is empty.
type Remove struct {
	Path      string `json:"p"`
	Recursive bool   `json:"recursive"`
}

// Move renames Src to Dst.
type Move struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// Copy copies Src to Dst, recursively for directories.
type Copy struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// NewWrite builds a Write carrying data base64-encoded.
func NewWrite(path string, data []byte) Write {
	return Write{Path: path, Contents: base64.StdEncoding.EncodeToString(data)}
}

func (Test) Verb() Verb     { return VerbTest }
func (List) Verb() Verb     { return VerbList }
func (MStat) Verb() Verb    { return VerbMStat }
func (Read) Verb() Verb     { return VerbRead }
func (Write) Verb() Verb    { return VerbWrite }
func (MakeDirs) Verb() Verb { return VerbMakeDirs }
func (Remove) Verb() Verb   { return VerbRemove }
func (Move) Verb() Verb     { return VerbMove }
func (Copy) Verb() Verb     { return VerbCopy }

func (Test) command()     {}
func (List) command()     {}
func (MStat) command()    {}
func (Read) command()     {}
func (Write) command()    {}
func (MakeDirs) command() {}
func (Remove) command()   {}
func (Move) command()     {}
func (Copy) command()     {}
