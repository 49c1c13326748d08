package api

// JobMethod identifies the work a job performs. Compound methods exist only
// to aggregate children and are never submitted to the broker.
type JobMethod string

const (
	MethodParallel JobMethod = "parallel"
	MethodSeries   JobMethod = "series"
	MethodChain    JobMethod = "chain"

	MethodClean   JobMethod = "clean"
	MethodArchive JobMethod = "archive"
	MethodPull    JobMethod = "pull"
	MethodPush    JobMethod = "push"
	MethodDecode  JobMethod = "decode"
	MethodEncode  JobMethod = "encode"
	MethodConvert JobMethod = "convert"
	MethodCompile JobMethod = "compile"
	MethodBuild   JobMethod = "build"
	MethodExecute JobMethod = "execute"
	MethodExtract JobMethod = "extract"
	MethodSession JobMethod = "session"
	MethodSleep   JobMethod = "sleep"
)

var knownMethods = map[JobMethod]bool{
	MethodParallel: true,
	MethodSeries:   true,
	MethodChain:    true,
	MethodClean:    true,
	MethodArchive:  true,
	MethodPull:     true,
	MethodPush:     true,
	MethodDecode:   true,
	MethodEncode:   true,
	MethodConvert:  true,
	MethodCompile:  true,
	MethodBuild:    true,
	MethodExecute:  true,
	MethodExtract:  true,
	MethodSession:  true,
	MethodSleep:    true,
}

// IsKnownMethod reports whether the method is part of the closed enumeration.
func IsKnownMethod(method JobMethod) bool {
	return knownMethods[method]
}

// IsCompound reports whether the method aggregates child jobs rather than
// mapping to executable work.
func IsCompound(method JobMethod) bool {
	return method == MethodParallel || method == MethodSeries || method == MethodChain
}
