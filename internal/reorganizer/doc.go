// Package reorganizer moves loose .sto files into iRacing's car/track
// folder layout. It extracts track names from filenames and folder
// structure, resolves them through the track matcher, and optionally
// deletes binary duplicates instead of moving them.
package reorganizer
