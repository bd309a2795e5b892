// Package upload copies the local asset directory into the datalake bucket
// once the bucket exists.
package upload
