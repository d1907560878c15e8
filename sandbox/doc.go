// Package sandbox confines file paths to a root directory and classifies
// files as text, binary or excluded.
//
// Containment is checked on resolved forms: relative segments are expanded
// and symlinks are followed before the path is compared with the root, so
// neither "../" traversal nor a symlink pointing outside the root can escape.
// The check is a best-effort path boundary, not an isolation mechanism.
package sandbox
