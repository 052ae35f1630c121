package livereload

// BuildHooks are the registration points a bundler integration exposes.
// Callbacks registered on them take no arguments and return nothing.
type BuildHooks interface {
	OnBuildStart(func())
	OnBuildEnd(func())
}

// Broadcaster pushes the two live-reload notifications.
type Broadcaster interface {
	SendRebuildStarted()
	SendReload()
}

// Bridge connects a build lifecycle to b: a build start announces the
// rebuild, a build end tells every tab to reload.
func Bridge(hooks BuildHooks, b Broadcaster) {
	hooks.OnBuildStart(b.SendRebuildStarted)
	hooks.OnBuildEnd(b.SendReload)
}
