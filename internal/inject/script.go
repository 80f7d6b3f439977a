package inject

import "fmt"

// ApplicationWorldName names the isolated world injected scripts run in.
const ApplicationWorldName = "iv-application"

// World selects the script context a script runs in.
type World int

const (
	// WorldApplication is an isolated world page scripts cannot reach.
	WorldApplication World = iota
	// WorldMain is the page's own script context.
	WorldMain
)

func (w World) String() string {
	switch w {
	case WorldApplication:
		return "application"
	case WorldMain:
		return "main"
	default:
		return fmt.Sprintf("world(%d)", int(w))
	}
}

// Name returns the isolated world name, or "" for the main world.
func (w World) Name() string {
	if w == WorldApplication {
		return ApplicationWorldName
	}
	return ""
}

// InjectionPoint is the document lifecycle moment a script runs at.
type InjectionPoint int

const (
	DocumentCreation InjectionPoint = iota
	DocumentReady
	Deferred
)

func (p InjectionPoint) String() string {
	switch p {
	case DocumentCreation:
		return "document-creation"
	case DocumentReady:
		return "document-ready"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("injection-point(%d)", int(p))
	}
}

// Script is a named piece of code installed into every new document.
type Script struct {
	Name            string
	Source          string
	World           World
	InjectionPoint  InjectionPoint
	RunsOnSubframes bool
}

// NewScript returns a script that runs in the application world at document
// creation on every frame.
func NewScript(name, source string) *Script {
	return &Script{
		Name:            name,
		Source:          source,
		World:           WorldApplication,
		InjectionPoint:  DocumentCreation,
		RunsOnSubframes: true,
	}
}

// Expression returns the source wrapped so it honours InjectionPoint and
// RunsOnSubframes when evaluated at document creation.
func (s *Script) Expression() string {
	src := s.Source
	switch s.InjectionPoint {
	case DocumentReady:
		src = "(function(){var run=function(){\n" + src + "\n};" +
			"if(document.readyState==='loading'){document.addEventListener('DOMContentLoaded',run,{once:true});}else{run();}})();"
	case Deferred:
		src = "(function(){var run=function(){\n" + src + "\n};" +
			"if(document.readyState==='complete'){setTimeout(run,0);}else{window.addEventListener('load',function(){setTimeout(run,0);},{once:true});}})();"
	}
	if !s.RunsOnSubframes {
		src = "if (window === window.top) {\n" + src + "\n}"
	}
	return src
}
