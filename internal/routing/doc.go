// Package routing classifies intercepted requests into a caching strategy.
// Classification is pure: given method, URL and the navigation flag it returns
// whether the worker intercepts the request at all and, if so, which of the
// closed set of strategies runs it. Rules are evaluated by kind (path prefix,
// then suffix, then origin) and the first match wins; navigations always run
// network-first so the shell document tracks the latest deployment.
package routing
