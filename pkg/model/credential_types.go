package model

// Well-known VC `type` / SD-JWT `vct` / mdoc `docType` identifiers this repository's
// tests and reference CLI issue. Callers are free to use any string; these are the ones
// exercised end-to-end.
const (
	TypeAtomicAttribute = "AtomicAttribute2023"
	TypeMDL             = "org.iso.18013.5.1.mDL"
	TypeIdentityCard    = "eu.europa.ec.eudi.pid.1"
)
