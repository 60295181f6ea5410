// Package formats provides parsers for Source engine asset formats: BSP maps, VTF textures,
// VMT materials and the KeyValues text syntax they share.
//
// Every parser validates lengths before reading and reports malformed input through the
// package's sentinel errors instead of panicking.
package formats
