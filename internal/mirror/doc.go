// Package mirror saves a thread's HTML page next to its archived JSON and
// rewrites asset references so the page opens offline.
//
// Stylesheets land in css/, scripts in js/, attachment anchors point at
// images/ or thumbs/, and in-page post anchors are reduced to their
// fragment-bearing base name.
package mirror
