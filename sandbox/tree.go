package sandbox

// CodebaseTree is a lightweight snapshot of a freshly cloned repository's
// file listing, handed back to the caller so it can be folded into
// ThreadState without a further sandbox round trip.
type CodebaseTree struct {
	Root  string
	Files []string
}
