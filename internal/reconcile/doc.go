// Package reconcile computes and applies the tag pointer changes that make a
// registry match the desired state declared by a build log.
//
// Desired state is last-writer-wins per tag in record order. A plan only ever
// adds or moves tags: tags the log never mentions are left untouched. Plans are
// pure functions of (records, observed snapshot), so an interrupted run resumes
// by simply running again.
package reconcile
