// Package command implements the in-band directive protocol embedded in
// assistant output: parsing and stripping of [CMD:...] markup, and execution
// of the side effects the directives request.
package command

// Directive types understood by the executor. Unknown types still parse;
// dispatch turns them into a failed Result.
const (
	TypeTime    = "time"
	TypeOpenURL = "open_url"
	TypeSearch  = "search"
	TypeSystem  = "system"
	TypeFile    = "file"
	TypeWeather = "weather"
	TypeNews    = "news"
)

// Directive is a single parsed command token from assistant text.
type Directive struct {
	Type string
	Arg  string
	// Raw is the exact matched span, including brackets.
	Raw string
}

// Result is the outcome of executing one directive. Executor methods never
// return errors; failures are carried here as data.
type Result struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
