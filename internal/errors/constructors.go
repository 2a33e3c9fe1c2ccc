package errors

// Convenience functions for common error patterns

// Manifest and configuration errors

func ManifestInvalid(path, reason string) *PipelineError {
	return New(CategoryManifest, SeverityFatal, "manifest validation failed").
		WithContext("path", path).
		WithContext("reason", reason)
}

func ManifestLoadError(path string, cause error) *PipelineError {
	return Wrap(cause, CategoryManifest, SeverityFatal, "failed to load manifest").
		WithContext("path", path)
}

func ConfigRequired(field string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

// Provisioning errors

func ProvisionFailed(path string, cause error) *PipelineError {
	return Wrap(cause, CategoryProvision, SeverityFatal, "source provisioning failed").
		WithContext("path", path)
}

func CommitUnresolvable(path, version string, cause error) *PipelineError {
	return Wrap(cause, CategoryProvision, SeverityFatal, "commit unresolvable").
		WithContext("path", path).
		WithContext("version", version)
}

// Dependency installer errors

func InstallFailed(path string, cause error) *PipelineError {
	return Wrap(cause, CategoryInstall, SeverityFatal, "dependency install failed").
		WithContext("path", path)
}

// Compile errors (fatal only on the first pass; later passes degrade)

func CompileFailed(pass int, cause error) *PipelineError {
	severity := SeverityFatal
	if pass > 1 {
		severity = SeverityWarning
	}
	return Wrap(cause, CategoryCompile, severity, "compile pass failed").
		WithContext("pass", pass)
}

func AuxiliaryBuildFailed(kind string, cause error) *PipelineError {
	return Wrap(cause, CategoryCompile, SeverityFatal, "auxiliary build failed").
		WithContext("kind", kind)
}

// Type checker errors

func TypeCheckFailed(count int) *PipelineError {
	return New(CategoryTypeCheck, SeverityFatal, "type check reported diagnostics").
		WithContext("diagnostics", count)
}

func TypeCheckerError(cause error) *PipelineError {
	return Wrap(cause, CategoryTypeCheck, SeverityFatal, "type checker failed to run")
}

// Storage errors

func PromotionFailed(dir string, cause error) *PipelineError {
	return Wrap(cause, CategoryPromotion, SeverityFatal, "artifact promotion failed").
		WithContext("dir", dir)
}

func WorkspaceError(operation string, cause error) *PipelineError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

func CacheError(operation string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryCache, SeverityWarning, "cache operation failed").
		WithContext("operation", operation)
}

// Unknown catch-all for recovered panics and unclassified failures

func Unknown(cause error) *PipelineError {
	return Wrap(cause, CategoryUnknown, SeverityFatal, "unexpected build failure")
}
