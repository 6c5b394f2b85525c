package orchestrator

// SetNowFunc congela el reloj del orchestrator en los tests.
func (o *Orchestrator) SetNowFunc(f func() int64) {
	o.now = f
}
