// Package pools provides scratch buffer pooling for the encoding paths.
//
// Records are encoded into a page-sized scratch buffer before they are
// copied into their page, so every append would otherwise allocate one.
package pools
