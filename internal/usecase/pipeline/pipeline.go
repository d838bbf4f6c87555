// Package pipeline содержит цепочки чистых текстовых преобразований.
package pipeline

// State — значение, которое передаётся между процессорами.
type State struct {
	Text  string
	Codes []string
}

// Processor — шаг цепочки. Возврат ok=false означает отказ: цепочка прерывается.
type Processor interface {
	Name() string
	Process(state State) (State, bool)
}

// Result — итог прогона цепочки. Rejected отличается от пустого Codes:
// отказ означает, что сообщение намеренно не обрабатывается дальше.
type Result struct {
	Codes      []string
	Rejected   bool
	RejectedBy string
}

// Pipeline — неизменяемая упорядоченная цепочка процессоров.
type Pipeline struct {
	name       string
	processors []Processor
}

// New создаёт цепочку из собственной копии переданных процессоров.
func New(name string, processors ...Processor) *Pipeline {
	owned := make([]Processor, len(processors))
	copy(owned, processors)
	return &Pipeline{name: name, processors: owned}
}

// Name возвращает имя цепочки.
func (p *Pipeline) Name() string {
	return p.name
}

// Processors возвращает копию списка процессоров.
func (p *Pipeline) Processors() []Processor {
	out := make([]Processor, len(p.processors))
	copy(out, p.processors)
	return out
}

// Run применяет процессоры по порядку до первого отказа.
func (p *Pipeline) Run(text string) Result {
	state := State{Text: text}
	for _, proc := range p.processors {
		next, ok := proc.Process(state)
		if !ok {
			return Result{Rejected: true, RejectedBy: proc.Name()}
		}
		state = next
	}
	return Result{Codes: state.Codes}
}
