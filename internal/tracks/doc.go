// Package tracks resolves the free-text track names providers use to
// canonical iRacing directory paths, using a tiered matcher over the
// track catalog: exact normalized lookup, substring containment, then
// fuzzy similarity, with hint-driven disambiguation between multiple
// configurations of the same track.
package tracks
