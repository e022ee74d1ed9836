// Package cascade extracts episode numbers and quality tags from free-form
// media filenames.
//
// Each extractor walks an ordered rule table and the first rule that matches
// wins. The tables are data so their order can be inspected and tested. The
// final episode rule grabs the first digit run in the name; it will report a
// resolution or year as the episode when nothing better matches. That is a
// known limitation, not a bug to fix here.
package cascade
