// Package mork is a client for MORK servers.
//
// A Session is bound to a namespace path and issues operations (upload,
// download, transform, exec, explore, import, export, clear, stop, status)
// over a shared transport.Transport. Every operation returns a *Request
// that is tracked to completion by polling (Block), by the push stream
// (Listen), or by racing both (Wait).
//
// Sessions nest: WorkAt returns a child whose requests target the parent's
// path plus one segment. Scopes give child sessions a lifetime with
// guaranteed release, optionally clearing the namespace on the way out:
//
//	inner, err := root.WorkAt("inner")
//	if err != nil {
//		return err
//	}
//	err = mork.With(ctx, inner.AndClear(), func(s *mork.Session) error {
//		req, err := s.Upload(ctx, "(inner 1)")
//		if err != nil {
//			return err
//		}
//		_, err = req.Block(ctx)
//		return err
//	})
//
// Explorer walks the stored structure level by level; children of a node
// are only fetched once the node is dispatched.
package mork
