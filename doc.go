// Package bitsfs implements the on-disk format of BitsFS, a small UNIX-style
// block filesystem: a superblock, bitmap allocators for blocks and inodes, a
// fixed inode table, and a data region reached through a two-level indirect
// block map.
//
// This package holds the types shared across the whole module -- errors, mode
// flags, on-disk layout constants, the BlockDevice collaborator, the
// superblock, and the on-disk inode/directory-entry records. The allocators,
// block map, directory-page logic, formatter, and composed operations live in
// the bitmap, blockmap, directory, format, and core sub-packages.
package bitsfs
